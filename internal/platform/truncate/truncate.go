// Package truncate implements the shrink-until-it-fits policy shared by the
// APNs, FCM, and WebPush payload shapers (spec.md §4.4/§4.5/§4.6): apply a
// fixed, ordered list of field-drops until the marshaled payload is under
// the cap, or give up.
package truncate

import "fmt"

// Step removes or shrinks one field of the payload in place. It reports
// whether it changed anything; a step that finds nothing left to drop
// returns false so ToFit can move to the next one.
type Step func() (changed bool)

// ToFit marshals build() and, while it exceeds maxBytes, applies steps in
// order until it fits or every step has been exhausted. It returns the
// final marshaled bytes, or an error if the payload is still oversized
// after all steps run.
func ToFit(maxBytes int, build func() ([]byte, error), steps ...Step) ([]byte, error) {
	b, err := build()
	if err != nil {
		return nil, err
	}
	if len(b) <= maxBytes {
		return b, nil
	}

	for _, step := range steps {
		if !step() {
			continue
		}
		b, err = build()
		if err != nil {
			return nil, err
		}
		if len(b) <= maxBytes {
			return b, nil
		}
	}

	return nil, fmt.Errorf("truncate: payload still %d bytes after all %d steps (cap %d)", len(b), len(steps), maxBytes)
}

// DropField returns a Step that deletes key from m, if present.
func DropField(m map[string]any, key string) Step {
	return func() bool {
		if _, ok := m[key]; !ok {
			return false
		}
		delete(m, key)
		return true
	}
}

// DropFieldString deletes key from a map[string]string, if present.
func DropFieldString(m map[string]string, key string) Step {
	return func() bool {
		if _, ok := m[key]; !ok {
			return false
		}
		delete(m, key)
		return true
	}
}
