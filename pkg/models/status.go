package models

// UnitStatus represents the processing status of a fetch unit in the database
type UnitStatus string

const (
	UnitStatusUnset    UnitStatus = ""          // Zero value = unset/unknown
	UnitStatusPending  UnitStatus = "pending"   // Unit planned but not finished
	UnitStatusSuccess  UnitStatus = "success"   // Unit extracted and assembled
	UnitStatusFailure  UnitStatus = "failure"   // Unit skipped after a failure
	UnitStatusNotFound UnitStatus = "not_found" // Unit not in database
	UnitStatusDBError  UnitStatus = "db_error"  // Database error occurred
)

// String implements fmt.Stringer for logging
func (s UnitStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s UnitStatus) IsValid() bool {
	switch s {
	case UnitStatusPending, UnitStatusSuccess, UnitStatusFailure:
		return true
	}
	return false
}

// Done reports whether a resumed run may skip the unit.
func (s UnitStatus) Done() bool {
	return s == UnitStatusSuccess
}
