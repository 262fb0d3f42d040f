package http

// APIResponse is the envelope around every JSON body the API writes. Status
// repeats the HTTP status; Data holds the payload or a list of AppError.
type APIResponse struct {
	Status  int         `json:"status" example:"200"`
	Message string      `json:"message" example:"OK"`
	Data    interface{} `json:"data,omitempty"`
}

// OK reports whether the envelope carries a 2xx status.
func (r APIResponse) OK() bool { return r.Status >= 200 && r.Status < 300 }
