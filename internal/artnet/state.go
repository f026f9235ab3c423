package artnet

import "sync"

// State is the last written value of every channel of every universe.
type State struct {
	mu        sync.Mutex
	universes UniverseStateMap
}

func NewState() *State {
	return &State{universes: UniverseStateMap{}}
}

// SetChannelValues applies values and returns a copy of the touched
// universes.
func (s *State) SetChannelValues(values []ChannelValue) UniverseStateMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	touched := UniverseStateMap{}
	for _, v := range values {
		if int(v.Channel) >= len(Universe{}) {
			continue
		}
		u := s.universes[v.Universe]
		u[v.Channel] = v.Value
		s.universes[v.Universe] = u
		touched[v.Universe] = u
	}
	return touched
}

// Get returns a copy of every universe.
func (s *State) Get() UniverseStateMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(UniverseStateMap, len(s.universes))
	for k, v := range s.universes {
		out[k] = v
	}
	return out
}
