package store

// CheckKind discriminates the closed set of check descriptor variants.
type CheckKind string

const (
	// CheckExistence verifies a required artifact file is present (single fetch).
	CheckExistence CheckKind = "existence"
	// CheckContent verifies minimum length/section count of a text artifact.
	CheckContent CheckKind = "content"
	// CheckInteractive drives the browser capability against the rendered page.
	CheckInteractive CheckKind = "interactive"
)

// AssertionKind discriminates browser assertions inside an interactive check.
type AssertionKind string

const (
	AssertElementPresent AssertionKind = "element_present"
	AssertClick          AssertionKind = "click"
	AssertResponsive     AssertionKind = "responsive"
	AssertTextContains   AssertionKind = "text_contains"
)

// Assertion is one browser-level expectation of an interactive check.
// Fields are kind-specific; unused fields stay zero.
type Assertion struct {
	Kind           AssertionKind `json:"kind" yaml:"kind"`
	Name           string        `json:"name" yaml:"name"`
	Selector       string        `json:"selector,omitempty" yaml:"selector,omitempty"`
	MinCount       int           `json:"min_count,omitempty" yaml:"min_count,omitempty"`
	ExpectSelector string        `json:"expect_selector,omitempty" yaml:"expect_selector,omitempty"`
	Text           string        `json:"text,omitempty" yaml:"text,omitempty"`
	Widths         []int64       `json:"widths,omitempty" yaml:"widths,omitempty"`
}

// Check is one scored evaluation descriptor attached to a Task.
type Check struct {
	Kind        CheckKind   `json:"kind" yaml:"kind"`
	Name        string      `json:"name" yaml:"name"`
	Path        string      `json:"path,omitempty" yaml:"path,omitempty"`
	MinLength   int         `json:"min_length,omitempty" yaml:"min_length,omitempty"`
	MinSections int         `json:"min_sections,omitempty" yaml:"min_sections,omitempty"`
	Assertions  []Assertion `json:"assertions,omitempty" yaml:"assertions,omitempty"`
}

// Attachment is a file reference shipped with a task brief. Either URL or
// inline Content is set.
type Attachment struct {
	Name    string `json:"name" yaml:"name"`
	Type    string `json:"type,omitempty" yaml:"type,omitempty"`
	URL     string `json:"url,omitempty" yaml:"url,omitempty"`
	Content string `json:"content,omitempty" yaml:"content,omitempty"`
}

// Task is a unit of work offered to one participant in one round.
// (Participant, TaskID, Round) is unique; Nonce is unique store-wide.
// After creation only the delivery fields (StatusCode, DeliveryError) mutate.
type Task struct {
	ID            int64
	Participant   string
	TaskID        string
	Round         int
	Nonce         string
	TemplateID    string
	Brief         string
	Checks        []Check
	Attachments   []Attachment
	CallbackURL   string
	Endpoint      string
	StatusCode    int
	DeliveryError string
	CreatedAt     string
}

// Submission is a participant's claim that round work is complete, tied to
// exactly one Task by nonce. Never mutated after creation.
type Submission struct {
	ID               int64
	Participant      string
	TaskID           string
	Round            int
	Nonce            string
	ArtifactLocation string
	ContentID        string
	RenderedURL      string
	ReceivedAt       string
}

// CheckResult is one scored outcome of evaluating a Submission against one check.
type CheckResult struct {
	ID           int64
	SubmissionID int64
	Check        string
	Score        float64
	Reason       string
	Evidence     string
	CreatedAt    string
}

// Participant is a registered external actor with an endpoint to notify and a
// hashed shared secret for credential checks.
type Participant struct {
	ID         string
	Endpoint   string
	SecretHash string
	CreatedAt  string
}

// ExportRow is one flattened line of the tabular report: a CheckResult joined
// with its Submission/Task identity.
type ExportRow struct {
	Participant      string
	TaskID           string
	Round            int
	Check            string
	Score            float64
	Reason           string
	ArtifactLocation string
	ContentID        string
	RenderedURL      string
	CreatedAt        string
}
