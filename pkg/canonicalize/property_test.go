package canonicalize

import (
	"encoding/json"
	"math/rand"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestIdempotencyKeyOrderIndependence verifies the core idempotency invariant:
// two serializations of the same object that differ only in key order and
// whitespace produce the same key.
func TestIdempotencyKeyOrderIndependence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("key is stable under key order and whitespace", prop.ForAll(
		func(keys []string, values []string, seed int64) bool {
			obj := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				if keys[i] != "" {
					obj[keys[i]] = values[i]
				}
			}
			if len(obj) == 0 {
				return true
			}

			// First serialization: encoding/json (sorted keys).
			sorted, err := json.Marshal(obj)
			if err != nil {
				return false
			}

			// Second serialization: shuffled key order with interleaved whitespace.
			rng := rand.New(rand.NewSource(seed))
			names := make([]string, 0, len(obj))
			for k := range obj {
				names = append(names, k)
			}
			rng.Shuffle(len(names), func(i, j int) { names[i], names[j] = names[j], names[i] })

			var sb strings.Builder
			sb.WriteString("{ ")
			for i, k := range names {
				if i > 0 {
					sb.WriteString(" ,\n\t")
				}
				kb, _ := json.Marshal(k)
				vb, _ := json.Marshal(obj[k])
				sb.Write(kb)
				sb.WriteString(" : ")
				sb.Write(vb)
			}
			sb.WriteString(" }")

			keyOne, err := IdempotencyKey(sorted)
			if err != nil {
				return false
			}
			keyTwo, err := IdempotencyKey([]byte(sb.String()))
			if err != nil {
				return false
			}
			return keyOne == keyTwo
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
