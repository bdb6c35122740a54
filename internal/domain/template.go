package domain

// TextElement describes one customizable text slot on a stamp template.
type TextElement struct {
	ID           string  `json:"id"`
	Description  string  `json:"description"`
	DefaultValue string  `json:"defaultValue"`
	Value        string  `json:"value,omitempty"`
	Font         string  `json:"font,omitempty"`
	FontSize     float64 `json:"fontSize,omitempty"`
	Uppercase    bool    `json:"uppercase,omitempty"`
}

// StampTemplate is a print template registered under one or more SKU aliases.
// Read-only from the pipeline's perspective.
type StampTemplate struct {
	ID           string
	Name         string
	SKUs         []string
	TextElements []TextElement
}

// FieldDescriptor is the serialized form of a text element handed to the
// variation parsing collaborator.
type FieldDescriptor struct {
	ID           string `json:"id"`
	Description  string `json:"description"`
	DefaultValue string `json:"defaultValue,omitempty"`
}

// FieldDescriptors flattens the template's text elements for the parsing
// collaborator prompt.
func (t StampTemplate) FieldDescriptors() []FieldDescriptor {
	descriptors := make([]FieldDescriptor, 0, len(t.TextElements))
	for _, el := range t.TextElements {
		descriptors = append(descriptors, FieldDescriptor{
			ID:           el.ID,
			Description:  el.Description,
			DefaultValue: el.DefaultValue,
		})
	}
	return descriptors
}
