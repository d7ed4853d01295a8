package models

// StartRequest is the body for POST /api/start.
type StartRequest struct {
	File  string `json:"file,omitempty"` // overrides Settings.MediaFile
	Route string `json:"route,omitempty"`
}

// SeekRequest is the body for POST /api/seek.
type SeekRequest struct {
	PositionUs *int64 `json:"position_us"`
}

// RouteRequest is the body for POST /api/route.
type RouteRequest struct {
	Remote *bool `json:"remote"`
}

// EffectsUpdate is a partial update for POST /api/effects.
// Nil fields are left unchanged.
type EffectsUpdate struct {
	Enabled *bool    `json:"enabled,omitempty"`
	GainDB  *float64 `json:"gain_db,omitempty"`
	Balance *float64 `json:"balance,omitempty"`
	Mute    *bool    `json:"mute,omitempty"`
}

// Apply merges the update into e and validates the result.
func (u EffectsUpdate) Apply(e Effects) (Effects, *AppError) {
	if u.Enabled != nil {
		e.Enabled = *u.Enabled
	}
	if u.GainDB != nil {
		if *u.GainDB < MinGainDB || *u.GainDB > MaxGainDB {
			return e, ErrInvalidField("gain_db", "gain_db out of range [-60, 12]")
		}
		e.GainDB = *u.GainDB
	}
	if u.Balance != nil {
		if *u.Balance < -1 || *u.Balance > 1 {
			return e, ErrInvalidField("balance", "balance out of range [-1, 1]")
		}
		e.Balance = *u.Balance
	}
	if u.Mute != nil {
		e.Mute = *u.Mute
	}
	return e, nil
}
