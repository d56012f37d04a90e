package domain

// OutcomeKind enumerates the terminal states of a successful combine request.
type OutcomeKind int

const (
	NoCombination OutcomeKind = iota
	AlreadyOwned
	Unlocked
	RecipeDiscovered
	Created
)

var outcomeMessages = map[OutcomeKind]string{
	NoCombination:    "Elements cannot be combined",
	AlreadyOwned:     "Element already in inventory",
	Unlocked:         "Element added to inventory",
	RecipeDiscovered: "Recipe discovered (Element already owned)",
	Created:          "New element created and added to inventory",
}

var outcomeNames = map[OutcomeKind]string{
	NoCombination:    "no_combination",
	AlreadyOwned:     "already_owned",
	Unlocked:         "unlocked",
	RecipeDiscovered: "recipe_discovered",
	Created:          "created",
}

// Message is the client-facing text for the outcome. Clients match on it.
func (k OutcomeKind) Message() string { return outcomeMessages[k] }

func (k OutcomeKind) String() string {
	if s, ok := outcomeNames[k]; ok {
		return s
	}
	return "unknown"
}

// Outcome is the result of one combine request. Element is nil only for
// NoCombination.
type Outcome struct {
	Kind    OutcomeKind
	Element *Element
}
