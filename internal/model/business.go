package model

import "time"

// BusinessContext is the read-only slice of the external business record the
// pipeline needs. It is owned by the business CRUD system.
type BusinessContext struct {
	BusinessID    int64                    `json:"business_id"`
	Name          string                   `json:"name"`
	Language      string                   `json:"language"`
	BrandVoice    BrandVoice               `json:"brand_voice"`
	Autopilot     bool                     `json:"autopilot"`
	KnownEntities KnownEntities            `json:"known_entities"`
	Platforms     map[Platform]Credentials `json:"platforms"`
	ContactEmail  string                   `json:"contact_email,omitempty"`
}

type BrandVoice struct {
	Tone    string   `json:"tone,omitempty"`    // e.g. "warm", "professional"
	Persona string   `json:"persona,omitempty"` // who signs replies, e.g. "Maria, owner"
	SignOff string   `json:"sign_off,omitempty"`
	Avoid   []string `json:"avoid,omitempty"` // phrases replies must not use
}

// KnownEntities are names the business has registered. Generated text may
// only mention the ones that also appear in the source.
type KnownEntities struct {
	Staff    []string `json:"staff,omitempty"`
	Products []string `json:"products,omitempty"`
}

type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	AccountID    string    `json:"account_id,omitempty"`
	LocationID   string    `json:"location_id,omitempty"`
}

func (b BusinessContext) Connected(p Platform) bool {
	_, ok := b.Platforms[p]
	return ok
}

// ConnectedPlatforms returns the connected platforms in AllPlatforms order.
func (b BusinessContext) ConnectedPlatforms() []Platform {
	var out []Platform
	for _, p := range AllPlatforms {
		if b.Connected(p) {
			out = append(out, p)
		}
	}
	return out
}
