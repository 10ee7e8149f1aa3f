// Package capability holds the per-agent skill weight profile.
package capability

import "sort"

const (
	// MinWeight is the neutral "no match" weight.
	MinWeight = 0
	// MaxWeight is full proficiency.
	MaxWeight = 100
)

// Profile maps a skill tag to a proficiency weight in [0,100].
type Profile map[string]int

// Get returns the weight for skill, or 0 when the agent has no entry.
// Reads never create keys.
func (p Profile) Get(skill string) int {
	if p == nil {
		return MinWeight
	}
	return p[skill]
}

// Has reports whether the agent holds skill with a non-zero weight.
func (p Profile) Has(skill string) bool {
	return p.Get(skill) > MinWeight
}

// Set stores a clamped weight for skill, introducing the key if needed.
func (p Profile) Set(skill string, weight int) {
	p[skill] = Clamp(weight)
}

// Clone returns an independent copy.
func (p Profile) Clone() Profile {
	out := make(Profile, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Skills returns the skill tags in sorted order.
func (p Profile) Skills() []string {
	skills := make([]string, 0, len(p))
	for k := range p {
		skills = append(skills, k)
	}
	sort.Strings(skills)
	return skills
}

// Validate reports the first weight outside [0,100].
func (p Profile) Validate() (string, bool) {
	for _, skill := range p.Skills() {
		if w := p[skill]; w < MinWeight || w > MaxWeight {
			return skill, false
		}
	}
	return "", true
}

// Clamp bounds a weight to [0,100].
func Clamp(weight int) int {
	if weight < MinWeight {
		return MinWeight
	}
	if weight > MaxWeight {
		return MaxWeight
	}
	return weight
}
