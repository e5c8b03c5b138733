package llm

// Turn is one structured input turn: system instructions or role-tagged content.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Request is everything one annotation call needs besides transport settings.
type Request struct {
	Model       string
	Turns       []Turn
	Temperature float64
}
