package mast

import "encoding/json"

// Mashup service names understood by the portal.
const (
	ServiceNameLookup   = "Mast.Name.Lookup"
	ServiceCaomCone     = "Mast.Caom.Cone"
	ServiceCaomFiltered = "Mast.Caom.Filtered"
	ServiceCaomProducts = "Mast.Caom.Products"
)

// Envelope status values.
const (
	StatusComplete  = "COMPLETE"
	StatusExecuting = "EXECUTING"
	StatusError     = "ERROR"
)

// Request is one Mashup service invocation. It is form-encoded as
// request=<json> when posted.
type Request struct {
	Service  string                 `json:"service"`
	Params   map[string]interface{} `json:"params"`
	Format   string                 `json:"format,omitempty"`
	Pagesize int                    `json:"pagesize,omitempty"`
	Page     int                    `json:"page,omitempty"`
	Timeout  int                    `json:"timeout,omitempty"`
}

// Response is the standard Mashup envelope. Data stays raw until the
// caller knows which row shape to decode.
type Response struct {
	Status string          `json:"status"`
	Msg    string          `json:"msg"`
	Data   json.RawMessage `json:"data"`
	Fields []Field         `json:"fields"`
	Paging Paging          `json:"paging"`
}

// Field describes one column of an enveloped result set.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Paging describes the slice of the result set a response covers.
type Paging struct {
	Page          int `json:"page"`
	PageSize      int `json:"pageSize"`
	PagesFiltered int `json:"pagesFiltered"`
	Rows          int `json:"rows"`
	RowsFiltered  int `json:"rowsFiltered"`
	RowsTotal     int `json:"rowsTotal"`
}

// Filter is one column constraint for a criteria query.
type Filter struct {
	ParamName string        `json:"paramName"`
	Values    []interface{} `json:"values"`
}

// Coordinates is a resolved target position.
type Coordinates struct {
	RA            float64
	Dec           float64
	CanonicalName string
	ObjectType    string
	Resolver      string
}

// lookupResponse is the name-lookup reply; it does not use the
// standard envelope.
type lookupResponse struct {
	ResolvedCoordinate []lookupRow `json:"resolvedCoordinate"`
	Status             string      `json:"status"`
}

type lookupRow struct {
	RA            float64 `json:"ra"`
	Decl          float64 `json:"decl"`
	CanonicalName string  `json:"canonicalName"`
	ObjectType    string  `json:"objectType"`
	Resolver      string  `json:"resolver"`
}

// caomRow is one observation row as the portal serializes it.
type caomRow struct {
	ObsID           string      `json:"obs_id"`
	Obsid           json.Number `json:"obsid"`
	Collection      string      `json:"obs_collection"`
	Instrument      string      `json:"instrument_name"`
	Filters         string      `json:"filters"`
	TargetName      string      `json:"target_name"`
	RA              float64     `json:"s_ra"`
	Dec             float64     `json:"s_dec"`
	TMin            float64     `json:"t_min"`
	TMax            float64     `json:"t_max"`
	ExposureTime    float64     `json:"t_exptime"`
	DataproductType string      `json:"dataproduct_type"`
	CalibLevel      int         `json:"calib_level"`
}

// productRow is one data-product row as the portal serializes it.
type productRow struct {
	ObsID       json.Number `json:"obsID"`
	Type        string      `json:"productType"`
	Subgroup    string      `json:"productSubGroupDescription"`
	Description string      `json:"description"`
	DataURI     string      `json:"dataURI"`
	Size        int64       `json:"size"`
}
