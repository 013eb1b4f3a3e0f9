package types

// Field is an optional string field extracted from a persisted record.
// The zero value is "missing". A missing field is never a wildcard:
// comparisons against it are automatic mismatches.
type Field struct {
	Value string
	Set   bool
}

// NewField returns a present Field carrying v. An empty v still counts
// as missing, matching how absent table cells parse.
func NewField(v string) Field {
	if v == "" {
		return Field{}
	}
	return Field{Value: v, Set: true}
}

// OrEmpty returns the value, or "" when missing.
func (f Field) OrEmpty() string {
	if !f.Set {
		return ""
	}
	return f.Value
}

// Equals reports whether both fields are present and carry the same value.
// A missing field on either side is a mismatch.
func (f Field) Equals(other Field) bool {
	return f.Set && other.Set && f.Value == other.Value
}

// Metadata is the structured field set pulled from a failure event or a
// persisted record body.
type Metadata struct {
	FeatureID    Field
	JobName      Field
	StepName     Field
	LogLineRange Field
}

// Key returns the correlation key formed from the metadata fields.
// Missing fields yield empty key components, which never match.
func (m Metadata) Key() CorrelationKey {
	return CorrelationKey{
		FeatureID: m.FeatureID.OrEmpty(),
		JobName:   m.JobName.OrEmpty(),
		StepName:  m.StepName.OrEmpty(),
	}
}

// Complete reports whether the three correlation fields are all present.
func (m Metadata) Complete() bool {
	return m.FeatureID.Set && m.JobName.Set && m.StepName.Set
}

// MissingFields returns the names of absent correlation fields, in a
// stable order. Used for validation error messages.
func (m Metadata) MissingFields() []string {
	var missing []string
	if !m.FeatureID.Set {
		missing = append(missing, "feature_id")
	}
	if !m.JobName.Set {
		missing = append(missing, "job_name")
	}
	if !m.StepName.Set {
		missing = append(missing, "step_name")
	}
	return missing
}
