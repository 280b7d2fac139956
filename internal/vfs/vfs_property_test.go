//go:build property
// +build property

package vfs

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genPathString produces arbitrary messy path spellings: random segments,
// random separator runs, optional leading and trailing separators.
func genPathString() gopter.Gen {
	segment := gen.RegexMatch(`^[a-zA-Z0-9_.-]{1,8}$`)
	return gen.SliceOfN(4, segment).Map(func(segs []string) string {
		var b strings.Builder
		for i, s := range segs {
			if i%2 == 0 {
				b.WriteString("//")
			} else {
				b.WriteString("/")
			}
			b.WriteString(s)
		}
		if len(segs)%2 == 0 {
			b.WriteString("/")
		}
		return b.String()
	})
}

func TestNormalizeProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("idempotence", prop.ForAll(
		func(p string) bool {
			once := Normalize(p)
			return Normalize(once) == once
		},
		gen.AnyString(),
	))

	properties.Property("always canonical shape", prop.ForAll(
		func(p string) bool {
			n := Normalize(p)
			if n == Root {
				return true
			}
			return strings.HasPrefix(n, "/") &&
				!strings.HasSuffix(n, "/") &&
				!strings.Contains(n, "//")
		},
		genPathString(),
	))

	properties.Property("spelling invariance", prop.ForAll(
		func(p string) bool {
			n := Normalize(p)
			if n == Root {
				return true
			}
			// Re-spell with doubled separators and a trailing slash.
			messy := strings.ReplaceAll(n, "/", "//") + "/"
			return Normalize(messy) == n
		},
		genPathString(),
	))

	properties.TestingRun(t)
}

func TestSerializeRoundTripProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	type mutation struct {
		op      int
		path    string
		content string
	}

	genMutation := gopter.CombineGens(
		gen.IntRange(0, 3),
		genPathString(),
		gen.AlphaString(),
	).Map(func(values []interface{}) mutation {
		return mutation{
			op:      values[0].(int),
			path:    values[1].(string),
			content: values[2].(string),
		}
	})

	properties.Property("serialize/load round trip after arbitrary mutations", prop.ForAll(
		func(mutations []mutation) bool {
			tree := NewTree()
			for _, m := range mutations {
				switch m.op {
				case 0:
					_ = tree.CreateFile(m.path, m.content)
				case 1:
					_ = tree.CreateDir(m.path)
				case 2:
					_ = tree.UpdateFile(m.path, m.content)
				case 3:
					_ = tree.Delete(m.path)
				}
			}

			serialized := tree.Serialize()
			hydrated := NewTree()
			if err := hydrated.Load(serialized); err != nil {
				return false
			}

			reserialized := hydrated.Serialize()
			if len(reserialized) != len(serialized) {
				return false
			}
			for path, record := range serialized {
				if reserialized[path] != record {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(16, genMutation),
	))

	properties.TestingRun(t)
}
