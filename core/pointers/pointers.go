package pointers

// StringPtr returns a pointer to the passed value
func StringPtr(v string) *string { return &v }
