package event

// Kind identifies an event type. The set is closed for this client version,
// but derivation must tolerate kinds it does not recognise so that events
// written by a newer client never break an older one.
type Kind string

const (
	KindSproutPlanted   Kind = "sprout-planted"
	KindSproutWatered   Kind = "sprout-watered"
	KindSproutHarvested Kind = "sprout-harvested"
	KindSproutUprooted  Kind = "sprout-uprooted"
	KindSunShone        Kind = "sun-shone"
	KindLeafCreated     Kind = "leaf-created"
)

// Kinds lists every kind known to this client version in a stable order.
var Kinds = []Kind{
	KindSproutPlanted,
	KindSproutWatered,
	KindSproutHarvested,
	KindSproutUprooted,
	KindSunShone,
	KindLeafCreated,
}

// Known reports whether k belongs to the closed set of kinds.
func (k Kind) Known() bool {
	_, ok := schemas[k]
	return ok
}

func (k Kind) String() string {
	return string(k)
}

// Season is the duration bucket a sprout is planted for.
type Season string

const (
	Season2Weeks  Season = "2w"
	Season1Month  Season = "1m"
	Season3Months Season = "3m"
	Season6Months Season = "6m"
	Season1Year   Season = "1y"
)

// Seasons lists all seasons from shortest to longest.
var Seasons = []Season{Season2Weeks, Season1Month, Season3Months, Season6Months, Season1Year}

// Valid reports whether s is one of the enumerated seasons.
func (s Season) Valid() bool {
	for _, known := range Seasons {
		if s == known {
			return true
		}
	}
	return false
}

// Environment is the difficulty bucket of a sprout.
type Environment string

const (
	EnvironmentFertile Environment = "fertile"
	EnvironmentFirm    Environment = "firm"
	EnvironmentBarren  Environment = "barren"
)

// Environments lists all environments from easiest to hardest.
var Environments = []Environment{EnvironmentFertile, EnvironmentFirm, EnvironmentBarren}

// Valid reports whether e is one of the enumerated environments.
func (e Environment) Valid() bool {
	for _, known := range Environments {
		if e == known {
			return true
		}
	}
	return false
}

// Payload field names. These are part of the cross-platform contract and are
// shared verbatim with every client implementation.
const (
	FieldSproutID       = "sproutId"
	FieldTwigID         = "twigId"
	FieldTwigLabel      = "twigLabel"
	FieldTitle          = "title"
	FieldSeason         = "season"
	FieldEnvironment    = "environment"
	FieldSoilCost       = "soilCost"
	FieldLeafID         = "leafId"
	FieldBloomWither    = "bloomWither"
	FieldBloomBudding   = "bloomBudding"
	FieldBloomFlourish  = "bloomFlourish"
	FieldContent        = "content"
	FieldPrompt         = "prompt"
	FieldResult         = "result"
	FieldCapacityGained = "capacityGained"
	FieldReflection     = "reflection"
	FieldSoilReturned   = "soilReturned"
	FieldName           = "name"
)
