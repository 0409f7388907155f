package derive

import (
	"github.com/roach88/grove/internal/economy"
	"github.com/roach88/grove/internal/event"
)

// Initial returns the state of an empty log.
func Initial() State {
	return State{
		SoilCapacity:  economy.StartingCapacity,
		SoilAvailable: economy.StartingCapacity,
		Sprouts:       map[string]Sprout{},
		Leaves:        map[string]Leaf{},
		SunEntries:    []SunEntry{},
	}
}

// Derive replays events into a State. The input slice is not modified.
//
// A client id seen more than once is applied only the first time it appears
// in derivation order, so a log that still carries a duplicate derives the
// same state as one that does not.
func Derive(events []event.Event) State {
	state := Initial()
	seen := make(map[string]struct{}, len(events))
	for _, e := range event.Sort(events) {
		if _, dup := seen[e.ClientID]; dup && e.ClientID != "" {
			continue
		}
		seen[e.ClientID] = struct{}{}
		state.apply(e)
	}
	return state
}

// apply folds one event into the state.
func (s *State) apply(e event.Event) {
	if err := event.Validate(e); err != nil {
		s.Skipped++
		return
	}

	switch e.Kind {
	case event.KindSproutPlanted:
		s.applyPlanted(e)
	case event.KindSproutWatered:
		s.applyWatered(e)
	case event.KindSproutHarvested:
		s.applyHarvested(e)
	case event.KindSproutUprooted:
		s.applyUprooted(e)
	case event.KindSunShone:
		s.applySunShone(e)
	case event.KindLeafCreated:
		s.applyLeafCreated(e)
	default:
		// Written by a newer client.
		s.Skipped++
	}
}

func (s *State) applyPlanted(e event.Event) {
	p := e.Payload
	id, _ := p.String(event.FieldSproutID)
	if _, exists := s.Sprouts[id]; exists {
		return
	}

	cost, _ := p.Int(event.FieldSoilCost)
	s.SoilAvailable = economy.Clamp(s.SoilAvailable-float64(cost), 0, s.SoilCapacity)

	s.Sprouts[id] = Sprout{
		ID:            id,
		TwigID:        p.StringOr(event.FieldTwigID, ""),
		Title:         p.StringOr(event.FieldTitle, ""),
		Season:        event.Season(p.StringOr(event.FieldSeason, "")),
		Environment:   event.Environment(p.StringOr(event.FieldEnvironment, "")),
		SoilCost:      cost,
		LeafID:        p.StringOr(event.FieldLeafID, ""),
		BloomWither:   p.StringOr(event.FieldBloomWither, ""),
		BloomBudding:  p.StringOr(event.FieldBloomBudding, ""),
		BloomFlourish: p.StringOr(event.FieldBloomFlourish, ""),
		State:         SproutActive,
		PlantedAt:     e.ClientTimestamp,
		WaterEntries:  []WaterEntry{},
	}
}

func (s *State) applyWatered(e event.Event) {
	sp, ok := s.activeSprout(e)
	if !ok {
		return
	}

	sp.WaterEntries = append(sp.WaterEntries, WaterEntry{
		ClientID:  e.ClientID,
		Content:   e.Payload.StringOr(event.FieldContent, ""),
		Prompt:    e.Payload.StringOr(event.FieldPrompt, ""),
		Timestamp: e.ClientTimestamp,
	})
	s.Sprouts[sp.ID] = sp
	s.credit(economy.WaterRecovery)
}

func (s *State) applyHarvested(e event.Event) {
	sp, ok := s.activeSprout(e)
	if !ok {
		return
	}

	result, _ := e.Payload.Int(event.FieldResult)
	reward := economy.CapacityReward(sp.Season, sp.Environment, result, s.SoilCapacity)
	s.SoilCapacity += reward
	s.credit(float64(sp.SoilCost))

	at := e.ClientTimestamp
	sp.State = SproutCompleted
	sp.HarvestedAt = &at
	sp.Result = result
	sp.Reflection = e.Payload.StringOr(event.FieldReflection, "")
	sp.CapacityGained = reward
	s.Sprouts[sp.ID] = sp
}

func (s *State) applyUprooted(e event.Event) {
	sp, ok := s.activeSprout(e)
	if !ok {
		return
	}

	returned, _ := e.Payload.Number(event.FieldSoilReturned)
	refund := economy.Clamp(returned, 0, float64(sp.SoilCost))
	s.credit(refund)

	at := e.ClientTimestamp
	sp.State = SproutUprooted
	sp.UprootedAt = &at
	sp.SoilReturned = refund
	s.Sprouts[sp.ID] = sp
}

func (s *State) applySunShone(e event.Event) {
	p := e.Payload
	s.SunEntries = append(s.SunEntries, SunEntry{
		ClientID:  e.ClientID,
		TwigID:    p.StringOr(event.FieldTwigID, ""),
		TwigLabel: p.StringOr(event.FieldTwigLabel, ""),
		Content:   p.StringOr(event.FieldContent, ""),
		Prompt:    p.StringOr(event.FieldPrompt, ""),
		Timestamp: e.ClientTimestamp,
	})
	s.credit(economy.SunRecovery)
}

func (s *State) applyLeafCreated(e event.Event) {
	p := e.Payload
	id, _ := p.String(event.FieldLeafID)
	if _, exists := s.Leaves[id]; exists {
		return
	}
	s.Leaves[id] = Leaf{
		ID:        id,
		TwigID:    p.StringOr(event.FieldTwigID, ""),
		Name:      p.StringOr(event.FieldName, ""),
		CreatedAt: e.ClientTimestamp,
	}
}

// activeSprout returns the sprout referenced by e if it exists and is active.
func (s *State) activeSprout(e event.Event) (Sprout, bool) {
	sp, ok := s.Sprouts[e.SproutID()]
	if !ok || sp.State != SproutActive {
		return Sprout{}, false
	}
	return sp, true
}

// credit adds soil to availability, capped at capacity.
func (s *State) credit(amount float64) {
	s.SoilAvailable = economy.Clamp(s.SoilAvailable+amount, 0, s.SoilCapacity)
}
