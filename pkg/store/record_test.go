package store

import (
	"slices"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

var testHeaders = []string{"id", "userId", "title", "author", "status"}

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		cells []string
		want  Record
	}{
		{"full", []string{"b1", "u1", "X", "A", "queued"}, Record{"id": "b1", "userId": "u1", "title": "X", "author": "A", "status": "queued"}},
		{"short", []string{"b1", "u1"}, Record{"id": "b1", "userId": "u1", "title": "", "author": "", "status": ""}},
		{"nil", nil, Record{"id": "", "userId": "", "title": "", "author": "", "status": ""}},
		{"extra cells ignored", []string{"b1", "u1", "X", "A", "queued", "zzz"}, Record{"id": "b1", "userId": "u1", "title": "X", "author": "A", "status": "queued"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decode(testHeaders, tt.cells))
		})
	}
}

func TestProject(t *testing.T) {
	got := Project(testHeaders, Record{"title": "X", "id": "b1", "unknown": "dropped"})
	assert.Equal(t, []string{"b1", "", "X", "", ""}, got)
}

func TestApplyPatch(t *testing.T) {
	current := Record{"id": "b1", "userId": "u1", "title": "X", "author": "A", "status": "queued"}
	tests := []struct {
		name  string
		patch Record
		want  []string
	}{
		{"empty patch", Record{}, []string{"b1", "u1", "X", "A", "queued"}},
		{"single field", Record{"title": "Y"}, []string{"b1", "u1", "Y", "A", "queued"}},
		{"clear a field", Record{"author": ""}, []string{"b1", "u1", "X", "", "queued"}},
		{"unknown field ignored", Record{"shelf": "Desk"}, []string{"b1", "u1", "X", "A", "queued"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ApplyPatch(testHeaders, current, tt.patch))
		})
	}
}

func TestChunk(t *testing.T) {
	tests := []struct {
		name string
		rows []int
		size int
		want [][]int
	}{
		{"empty", nil, 3, nil},
		{"sorted and deduplicated", []int{9, 2, 5, 2, 7}, 3, [][]int{{2, 5, 7}, {9}}},
		{"exact", []int{4, 3}, 2, [][]int{{3, 4}}},
		{"default size", []int{2}, 0, [][]int{{2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Chunk(tt.rows, tt.size))
		})
	}
}

func TestProperty_PatchAndChunk(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("columns absent from the patch keep their value", prop.ForAll(
		func(values []string, patchCol int, patchVal string) bool {
			current := Decode(testHeaders, values)
			col := testHeaders[patchCol]
			next := ApplyPatch(testHeaders, current, Record{col: patchVal})
			for i, h := range testHeaders {
				if h == col {
					if next[i] != patchVal {
						return false
					}
				} else if next[i] != current[h] {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(len(testHeaders), gen.AlphaString()),
		gen.IntRange(0, len(testHeaders)-1),
		gen.AlphaString(),
	))

	properties.Property("chunks cover the unique rows in order with ceil(n/size) calls", prop.ForAll(
		func(rows []int, size int) bool {
			chunks := Chunk(rows, size)
			unique := slices.Clone(rows)
			slices.Sort(unique)
			unique = slices.Compact(unique)

			if len(chunks) != (len(unique)+size-1)/size {
				return false
			}
			var flat []int
			for _, c := range chunks {
				if len(c) == 0 || len(c) > size {
					return false
				}
				flat = append(flat, c...)
			}
			return slices.Equal(flat, unique)
		},
		gen.SliceOf(gen.IntRange(2, 500)),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}
