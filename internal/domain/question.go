package domain

// Question is a content item supplied by the content system. The drill engine
// only reads it and attaches progress.
type Question struct {
	ID      string `json:"id" yaml:"id"`
	Text    string `json:"question" yaml:"question"`
	Answer  string `json:"answer" yaml:"answer"`
	Rank    string `json:"rank,omitempty" yaml:"rank"`
	Subject string `json:"subject,omitempty" yaml:"subject"`
	// Reference is optional source material passed to the AI collaborator.
	Reference string          `json:"reference,omitempty" yaml:"reference"`
	Progress  *ProgressRecord `json:"fillDrill,omitempty" yaml:"-"`
}

// Collection is an ordered set of questions.
type Collection struct {
	ID        string     `json:"id" yaml:"id"`
	Title     string     `json:"title" yaml:"title"`
	Questions []Question `json:"questions" yaml:"questions"`
}

// QuestionByID returns the question with the given id.
func (c *Collection) QuestionByID(id string) (*Question, bool) {
	if c == nil || id == "" {
		return nil, false
	}
	for i := range c.Questions {
		if c.Questions[i].ID == id {
			return &c.Questions[i], true
		}
	}
	return nil, false
}

// QuestionAt returns the question at index i.
func (c *Collection) QuestionAt(i int) (*Question, bool) {
	if c == nil || i < 0 || i >= len(c.Questions) {
		return nil, false
	}
	return &c.Questions[i], true
}

// StandaloneCollection keys progress of questions mounted without a collection.
const StandaloneCollection = "standalone"

// RecordKey identifies the ProgressRecord of one question.
type RecordKey struct {
	CollectionID string
	QuestionID   string
}

func (k RecordKey) String() string {
	return k.CollectionID + ":" + k.QuestionID
}

// SlotKey identifies one (question, level) pair.
type SlotKey struct {
	RecordKey
	Level Level
}
