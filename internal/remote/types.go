package remote

import "time"

// RemoteRecord is one page/record returned by the workspace API. It is
// ephemeral: the mapper converts it into a local entity and it is never
// persisted directly.
type RemoteRecord struct {
	ID             string              `json:"id"`
	CreatedTime    time.Time           `json:"created_time"`
	LastEditedTime time.Time           `json:"last_edited_time"`
	Properties     map[string]Property `json:"properties"`
}

// Property is a typed property value. Exactly one of the value fields is
// populated, named by Type, matching the workspace API's tagged-union wire
// format.
type Property struct {
	Type     string         `json:"type"`
	Title    []RichTextFrag `json:"title,omitempty"`
	RichText []RichTextFrag `json:"rich_text,omitempty"`
	Select   *SelectOption  `json:"select,omitempty"`
	Status   *SelectOption  `json:"status,omitempty"`
	Date     *DateValue     `json:"date,omitempty"`
	Checkbox *bool          `json:"checkbox,omitempty"`
	Number   *float64       `json:"number,omitempty"`
}

// RichTextFrag is one fragment of a rich-text property.
type RichTextFrag struct {
	PlainText string `json:"plain_text"`
}

// SelectOption is the chosen option of a select or status property.
type SelectOption struct {
	Name string `json:"name"`
}

// DateValue is a date or date range. Start and End are ISO-8601 strings.
type DateValue struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

// QueryResponse is one page of a collection query.
type QueryResponse struct {
	Results    []RemoteRecord `json:"results"`
	HasMore    bool           `json:"has_more"`
	NextCursor string         `json:"next_cursor,omitempty"`
}
