package notion

// Wire types for the two Notion API call shapes this client consumes:
// retrieve-database (schema, for the property-name map) and query-database.

type queryRequest struct {
	Filter      *timestampFilter `json:"filter,omitempty"`
	Sorts       []timestampSort  `json:"sorts,omitempty"`
	StartCursor string           `json:"start_cursor,omitempty"`
	PageSize    int              `json:"page_size,omitempty"`
}

type timestampFilter struct {
	Timestamp      string          `json:"timestamp"`
	LastEditedTime *afterCondition `json:"last_edited_time,omitempty"`
}

type afterCondition struct {
	After string `json:"after"`
}

type timestampSort struct {
	Timestamp string `json:"timestamp"`
	Direction string `json:"direction"`
}

type queryResponse struct {
	Results    []Page  `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor *string `json:"next_cursor"`
}

// Page is one raw Notion page. Properties are keyed by property name in
// query responses but addressed by opaque ID in older API versions, hence
// the resolver fallback chain in properties.go.
type Page struct {
	ID             string              `json:"id"`
	CreatedTime    string              `json:"created_time"`
	LastEditedTime string              `json:"last_edited_time"`
	Archived       bool                `json:"archived"`
	URL            string              `json:"url"`
	Properties     map[string]Property `json:"properties"`
}

// Property is the tagged union of Notion property values. Type names the
// populated arm; every supported kind gets its own field so a new kind shows
// up as a decode gap here instead of a silent nil downstream.
type Property struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Title       []RichText     `json:"title,omitempty"`
	RichText    []RichText     `json:"rich_text,omitempty"`
	Number      *float64       `json:"number,omitempty"`
	Select      *SelectOption  `json:"select,omitempty"`
	MultiSelect []SelectOption `json:"multi_select,omitempty"`
	Status      *SelectOption  `json:"status,omitempty"`
	Date        *DateValue     `json:"date,omitempty"`
	Checkbox    *bool          `json:"checkbox,omitempty"`
	URL         *string        `json:"url,omitempty"`
	Email       *string        `json:"email,omitempty"`
	PhoneNumber *string        `json:"phone_number,omitempty"`
	Formula     *FormulaValue  `json:"formula,omitempty"`
}

type RichText struct {
	PlainText string `json:"plain_text"`
}

type SelectOption struct {
	Name string `json:"name"`
}

type DateValue struct {
	Start string  `json:"start"`
	End   *string `json:"end,omitempty"`
}

type FormulaValue struct {
	Type    string     `json:"type"`
	String  *string    `json:"string,omitempty"`
	Number  *float64   `json:"number,omitempty"`
	Boolean *bool      `json:"boolean,omitempty"`
	Date    *DateValue `json:"date,omitempty"`
}

type databaseResponse struct {
	Properties map[string]schemaProperty `json:"properties"`
}

type schemaProperty struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
