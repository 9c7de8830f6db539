package logging

// Field names used in structured log events.
const (
	FieldFHIRServer   = "fhir_server"
	FieldResourceType = "resource_type"
	FieldResourceID   = "resource_id"
	FieldTask         = "task"
	FieldCode         = "code"
	FieldStatus       = "status"
	FieldFile         = "file"
	FieldProfile      = "profile"
)
