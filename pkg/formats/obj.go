// Package formats provides parsers for Wavefront asset files.
// OBJ (geometry) parser producing per-object, single-index vertex data.
package formats

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/objwatch/pkg/encoding"
)

// OBJ format errors.
var (
	ErrNonTriangulatedFace = errors.New("face has more than 3 corners")
	ErrDegenerateFace      = errors.New("face has fewer than 3 corners")
	ErrInvalidFaceIndex    = errors.New("invalid face index")
	ErrNoCurrentObject     = errors.New("no current object: missing 'o' line")
)

// FaceError is returned by ParseOBJ when a face cannot be rendered as a
// triangle. It aborts the whole parse.
type FaceError struct {
	Object  string // Object the face belongs to
	Line    int    // 1-based line number
	Corners int    // Corner count found on the line
}

// Error implements error.
func (e *FaceError) Error() string {
	return fmt.Sprintf("object %q line %d: %d corners: %v", e.Object, e.Line, e.Corners, ErrNonTriangulatedFace)
}

// Unwrap returns ErrNonTriangulatedFace.
func (e *FaceError) Unwrap() error {
	return ErrNonTriangulatedFace
}

// objLineKind identifies the directive of one OBJ line.
type objLineKind int

const (
	objLineBlank objLineKind = iota
	objLineComment
	objLineObject
	objLineVertex
	objLineNormal
	objLineTexCoord
	objLineUseMtl
	objLineSmooth
	objLineFace
	objLineMtlLib
	objLineUnknown
)

// String returns the OBJ keyword for the kind.
func (k objLineKind) String() string {
	switch k {
	case objLineBlank:
		return ""
	case objLineComment:
		return "#"
	case objLineObject:
		return "o"
	case objLineVertex:
		return "v"
	case objLineNormal:
		return "vn"
	case objLineTexCoord:
		return "vt"
	case objLineUseMtl:
		return "usemtl"
	case objLineSmooth:
		return "s"
	case objLineFace:
		return "f"
	case objLineMtlLib:
		return "mtllib"
	default:
		return "unknown"
	}
}

func classifyOBJ(keyword string) objLineKind {
	switch keyword {
	case "":
		return objLineBlank
	case "#":
		return objLineComment
	case "o":
		return objLineObject
	case "v":
		return objLineVertex
	case "vn":
		return objLineNormal
	case "vt":
		return objLineTexCoord
	case "usemtl":
		return objLineUseMtl
	case "s":
		return objLineSmooth
	case "f":
		return objLineFace
	case "mtllib":
		return objLineMtlLib
	default:
		return objLineUnknown
	}
}

// Object is one named sub-mesh after vertex expansion.
// Positions, Normals and TexCoords are index-aligned: entry i of each
// belongs to the i-th face corner of the object.
type Object struct {
	Name        string       `json:"-"`
	Positions   []mgl32.Vec3 `json:"vertexPositions"`
	Normals     []mgl32.Vec3 `json:"vertexNormals"`
	TexCoords   []mgl32.Vec2 `json:"vertexTextureCoords"`
	Materials   []string     `json:"materials"` // usemtl names in declaration order
	Smooth      bool         `json:"-"`
	MissingRefs int          `json:"-"` // Face references that resolved to no data
}

// VertexCount returns the number of expanded vertices.
func (o *Object) VertexCount() int {
	return len(o.Positions)
}

// TriangleCount returns the number of triangles.
func (o *Object) TriangleCount() int {
	return len(o.Positions) / 3
}

// Bounds returns the axis-aligned bounding box of the object's positions.
// ok is false for an object without vertices.
func (o *Object) Bounds() (min, max mgl32.Vec3, ok bool) {
	if len(o.Positions) == 0 {
		return min, max, false
	}
	min, max = o.Positions[0], o.Positions[0]
	for _, p := range o.Positions[1:] {
		for i := 0; i < 3; i++ {
			if p[i] < min[i] {
				min[i] = p[i]
			}
			if p[i] > max[i] {
				max[i] = p[i]
			}
		}
	}
	return min, max, true
}

// OBJ represents a parsed OBJ file.
type OBJ struct {
	Objects      map[string]*Object // Objects by name
	Order        []string           // Object names in file order
	MaterialLibs []string           // mtllib references
	Warnings     []LineWarning      // Lines that were skipped
}

// Object returns the named object or nil.
func (o *OBJ) Object(name string) *Object {
	return o.Objects[name]
}

// Index slots for the three OBJ vertex attribute pools.
const (
	attrPosition = iota
	attrTexCoord
	attrNormal
	attrCount
)

// missingIndex marks a face corner component that was left out ("1//3").
// It lies outside any index an explicit reference can resolve to.
const missingIndex = math.MinInt

// objBuilder accumulates one object's raw tables before expansion.
type objBuilder struct {
	name      string
	positions []mgl32.Vec3
	texCoords []mgl32.Vec2
	normals   []mgl32.Vec3
	indices   [attrCount][]int
	materials []string
	smooth    bool
}

func (b *objBuilder) counts() [attrCount]int {
	return [attrCount]int{len(b.positions), len(b.texCoords), len(b.normals)}
}

// objState is the accumulator threaded through every line of one parse.
type objState struct {
	current  *objBuilder
	builders map[string]*objBuilder
	order    []string
	offset   [attrCount]int // Counts emitted by previously completed objects
	mtlLibs  []string
	warnings []LineWarning
}

// ParseOBJ parses OBJ text into per-object expanded vertex data.
//
// Malformed lines are skipped and reported in OBJ.Warnings. A face with more
// than three corners aborts the parse with a *FaceError.
func ParseOBJ(data []byte) (*OBJ, error) {
	s := &objState{builders: make(map[string]*objBuilder)}

	for i, raw := range encoding.SplitLines(encoding.DecodeText(data)) {
		l := tokenize(i+1, raw)
		if err := s.apply(l); err != nil {
			var faceErr *FaceError
			if errors.As(err, &faceErr) {
				return nil, faceErr
			}
			s.warnings = append(s.warnings, l.warning(err))
		}
	}

	return s.finish(), nil
}

// apply updates the state for one line.
func (s *objState) apply(l line) error {
	kind := classifyOBJ(l.keyword)

	switch kind {
	case objLineBlank, objLineComment:
		return nil

	case objLineObject:
		name, err := l.name()
		if err != nil {
			return err
		}
		s.startObject(name)
		return nil

	case objLineMtlLib:
		name, err := l.name()
		if err != nil {
			return err
		}
		s.mtlLibs = append(s.mtlLibs, name)
		return nil

	case objLineUnknown:
		// Unsupported directives (g, l, curv, ...) are skipped on purpose.
		return nil
	}

	// A non-triangulated face is fatal wherever it appears.
	if kind == objLineFace && len(l.args) > 3 {
		return &FaceError{Object: s.currentName(), Line: l.num, Corners: len(l.args)}
	}

	// Remaining kinds attach to the current object.
	if s.current == nil {
		return fmt.Errorf("%s: %w", kind, ErrNoCurrentObject)
	}
	b := s.current

	switch kind {
	case objLineVertex:
		v, err := parseVec3(l.args)
		if err != nil {
			return err
		}
		b.positions = append(b.positions, v)

	case objLineNormal:
		v, err := parseVec3(l.args)
		if err != nil {
			return err
		}
		b.normals = append(b.normals, v)

	case objLineTexCoord:
		v, err := parseTexCoord(l.args)
		if err != nil {
			return err
		}
		b.texCoords = append(b.texCoords, v)

	case objLineUseMtl:
		name, err := l.name()
		if err != nil {
			return err
		}
		b.materials = append(b.materials, name)

	case objLineSmooth:
		if len(l.args) == 0 {
			return fmt.Errorf("s: %w", ErrMissingArguments)
		}
		b.smooth = l.args[0] != "off" && l.args[0] != "0"

	case objLineFace:
		return s.addFace(l)
	}
	return nil
}

// startObject closes the current object and makes name current. The closed
// object's raw counts move into the offsets so later global face indices
// translate into the new object's local arrays.
func (s *objState) startObject(name string) {
	if s.current != nil {
		c := s.current.counts()
		for i := range s.offset {
			s.offset[i] += c[i]
		}
	}

	b := &objBuilder{name: name}
	if _, exists := s.builders[name]; !exists {
		s.order = append(s.order, name)
	}
	s.builders[name] = b
	s.current = b
}

func (s *objState) currentName() string {
	if s.current == nil {
		return ""
	}
	return s.current.name
}

// addFace appends the local indices of one triangle.
func (s *objState) addFace(l line) error {
	b := s.current
	if len(l.args) < 3 {
		return fmt.Errorf("%w: %d", ErrDegenerateFace, len(l.args))
	}

	// Resolve all corners first so a bad corner leaves no partial face.
	var corners [3][attrCount]int
	for i, token := range l.args {
		c, err := s.resolveCorner(token)
		if err != nil {
			return err
		}
		corners[i] = c
	}

	for _, c := range corners {
		for attr := 0; attr < attrCount; attr++ {
			b.indices[attr] = append(b.indices[attr], c[attr])
		}
	}
	return nil
}

// resolveCorner converts a "pos/tex/norm" token into object-local indices.
func (s *objState) resolveCorner(token string) ([attrCount]int, error) {
	var out [attrCount]int
	parts := strings.Split(token, "/")
	if len(parts) > attrCount || parts[0] == "" {
		return out, fmt.Errorf("%w: %q", ErrInvalidFaceIndex, token)
	}

	global := s.globalCounts()
	for attr := 0; attr < attrCount; attr++ {
		if attr >= len(parts) || parts[attr] == "" {
			out[attr] = missingIndex
			continue
		}
		n, err := strconv.Atoi(parts[attr])
		if err != nil || n == 0 {
			return out, fmt.Errorf("%w: %q", ErrInvalidFaceIndex, token)
		}

		// OBJ indices are 1-based; negative ones count back from the
		// most recent element.
		index := n - 1
		if n < 0 {
			index = global[attr] + n
		}
		out[attr] = index - s.offset[attr]
	}
	return out, nil
}

// globalCounts returns how many elements of each pool the file has declared so far.
func (s *objState) globalCounts() [attrCount]int {
	g := s.offset
	if s.current != nil {
		c := s.current.counts()
		for i := range g {
			g[i] += c[i]
		}
	}
	return g
}

// finish expands every object into the single-index representation.
func (s *objState) finish() *OBJ {
	result := &OBJ{
		Objects:      make(map[string]*Object, len(s.builders)),
		Order:        s.order,
		MaterialLibs: s.mtlLibs,
		Warnings:     s.warnings,
	}

	for _, name := range s.order {
		obj := s.builders[name].expand()
		if obj.MissingRefs > 0 {
			result.Warnings = append(result.Warnings, LineWarning{
				Err: fmt.Errorf("object %q: %d face references out of range, using zero values", name, obj.MissingRefs),
			})
		}
		result.Objects[name] = obj
	}
	return result
}

// expand duplicates position, normal and texture data once per face corner.
// WebGL draws with a single index per vertex, while OBJ indexes each
// attribute separately, so the per-attribute indices are dropped here.
// Out-of-range references produce zero values and are counted; omitted
// components produce zero values silently.
func (b *objBuilder) expand() *Object {
	n := len(b.indices[attrPosition])
	obj := &Object{
		Name:      b.name,
		Positions: make([]mgl32.Vec3, n),
		Normals:   make([]mgl32.Vec3, n),
		TexCoords: make([]mgl32.Vec2, n),
		Materials: append([]string{}, b.materials...),
		Smooth:    b.smooth,
	}

	for i := 0; i < n; i++ {
		obj.MissingRefs += fill(&obj.Positions[i], b.positions, b.indices[attrPosition][i])
		obj.MissingRefs += fill(&obj.Normals[i], b.normals, b.indices[attrNormal][i])
		obj.MissingRefs += fill(&obj.TexCoords[i], b.texCoords, b.indices[attrTexCoord][i])
	}
	return obj
}

// fill copies values[i] into dst and returns 1 if i is an explicit
// reference outside values.
func fill[T any](dst *T, values []T, i int) int {
	if i == missingIndex {
		return 0
	}
	if i < 0 || i >= len(values) {
		return 1
	}
	*dst = values[i]
	return 0
}

// parseTexCoord accepts "u", "u v" and "u v w"; v defaults to 0.
func parseTexCoord(args []string) (mgl32.Vec2, error) {
	if len(args) == 1 {
		u, err := parseFloat(args[0])
		if err != nil {
			return mgl32.Vec2{}, err
		}
		return mgl32.Vec2{u, 0}, nil
	}
	return parseVec2(args)
}
