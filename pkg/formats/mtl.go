// Package formats provides parsers for Wavefront asset files.
// MTL (material library) parser.
package formats

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/objwatch/pkg/encoding"
)

// MTL format errors.
var (
	ErrNoCurrentMaterial = errors.New("no current material: missing 'newmtl' line")
)

// MaterialProp is a bit set of material properties declared in a file.
type MaterialProp uint16

const (
	PropAmbient          MaterialProp = 1 << iota // Ka
	PropDiffuse                                   // Kd
	PropSpecular                                  // Ks
	PropEmission                                  // Ke
	PropSpecularExponent                          // Ns
	PropOpticalDensity                            // Ni
	PropTransparency                              // Tr
	PropDissolve                                  // d
	PropIllumination                              // illum
	PropDiffuseMap                                // map_Kd
)

// mtlLineKind identifies the directive of one MTL line.
type mtlLineKind int

const (
	mtlLineBlank mtlLineKind = iota
	mtlLineComment
	mtlLineNewMtl
	mtlLineAmbient
	mtlLineDiffuse
	mtlLineSpecular
	mtlLineEmission
	mtlLineSpecularExponent
	mtlLineOpticalDensity
	mtlLineTransparency
	mtlLineDissolve
	mtlLineIllumination
	mtlLineDiffuseMap
	mtlLineUnknown
)

func classifyMTL(keyword string) mtlLineKind {
	switch keyword {
	case "":
		return mtlLineBlank
	case "#":
		return mtlLineComment
	case "newmtl":
		return mtlLineNewMtl
	case "Ka":
		return mtlLineAmbient
	case "Kd":
		return mtlLineDiffuse
	case "Ks":
		return mtlLineSpecular
	case "Ke":
		return mtlLineEmission
	case "Ns":
		return mtlLineSpecularExponent
	case "Ni":
		return mtlLineOpticalDensity
	case "Tr":
		return mtlLineTransparency
	case "d":
		return mtlLineDissolve
	case "illum":
		return mtlLineIllumination
	case "map_Kd":
		return mtlLineDiffuseMap
	default:
		return mtlLineUnknown
	}
}

// Material holds the properties of one newmtl block.
// Properties not declared in the block keep their zero value; use Has to
// tell them apart. The JSON form carries declared properties only.
type Material struct {
	Name             string
	Ambient          mgl32.Vec3 // Ka
	Diffuse          mgl32.Vec3 // Kd
	Specular         mgl32.Vec3 // Ks
	Emission         mgl32.Vec3 // Ke
	SpecularExponent float32    // Ns
	OpticalDensity   float32    // Ni
	Transparency     float32    // Tr, superseded by Dissolve and not serialized
	Dissolve         float32    // d
	Illumination     int        // illum
	DiffuseMap       string     // map_Kd, file name only

	declared MaterialProp
}

// Has reports whether the property was declared for this material.
func (m *Material) Has(p MaterialProp) bool {
	return m.declared&p == p
}

// materialJSON is the wire form of Material.
type materialJSON struct {
	Ambient          *mgl32.Vec3 `json:"ambientColor,omitempty"`
	Diffuse          *mgl32.Vec3 `json:"diffuseColor,omitempty"`
	Specular         *mgl32.Vec3 `json:"specularColor,omitempty"`
	Emission         *mgl32.Vec3 `json:"emissionColor,omitempty"`
	SpecularExponent *float32    `json:"specularHighlights,omitempty"`
	OpticalDensity   *float32    `json:"opticalDensity,omitempty"`
	Dissolve         *float32    `json:"dissolve,omitempty"`
	Illumination     *int        `json:"illuminationModel,omitempty"`
	DiffuseMap       *string     `json:"imageTextureName,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (m Material) MarshalJSON() ([]byte, error) {
	var w materialJSON
	if m.Has(PropAmbient) {
		w.Ambient = &m.Ambient
	}
	if m.Has(PropDiffuse) {
		w.Diffuse = &m.Diffuse
	}
	if m.Has(PropSpecular) {
		w.Specular = &m.Specular
	}
	if m.Has(PropEmission) {
		w.Emission = &m.Emission
	}
	if m.Has(PropSpecularExponent) {
		w.SpecularExponent = &m.SpecularExponent
	}
	if m.Has(PropOpticalDensity) {
		w.OpticalDensity = &m.OpticalDensity
	}
	if m.Has(PropDissolve) {
		w.Dissolve = &m.Dissolve
	}
	if m.Has(PropIllumination) {
		w.Illumination = &m.Illumination
	}
	if m.Has(PropDiffuseMap) {
		w.DiffuseMap = &m.DiffuseMap
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler. Present fields are marked
// as declared.
func (m *Material) UnmarshalJSON(data []byte) error {
	var w materialJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	name := m.Name
	*m = Material{Name: name}
	if w.Ambient != nil {
		m.Ambient, m.declared = *w.Ambient, m.declared|PropAmbient
	}
	if w.Diffuse != nil {
		m.Diffuse, m.declared = *w.Diffuse, m.declared|PropDiffuse
	}
	if w.Specular != nil {
		m.Specular, m.declared = *w.Specular, m.declared|PropSpecular
	}
	if w.Emission != nil {
		m.Emission, m.declared = *w.Emission, m.declared|PropEmission
	}
	if w.SpecularExponent != nil {
		m.SpecularExponent, m.declared = *w.SpecularExponent, m.declared|PropSpecularExponent
	}
	if w.OpticalDensity != nil {
		m.OpticalDensity, m.declared = *w.OpticalDensity, m.declared|PropOpticalDensity
	}
	if w.Dissolve != nil {
		m.Dissolve, m.declared = *w.Dissolve, m.declared|PropDissolve
	}
	if w.Illumination != nil {
		m.Illumination, m.declared = *w.Illumination, m.declared|PropIllumination
	}
	if w.DiffuseMap != nil {
		m.DiffuseMap, m.declared = *w.DiffuseMap, m.declared|PropDiffuseMap
	}
	return nil
}

// MTL represents a parsed MTL file.
type MTL struct {
	Materials map[string]*Material // Materials by name
	Order     []string             // Material names in file order
	Warnings  []LineWarning        // Lines that were skipped
}

// Material returns the named material or nil.
func (m *MTL) Material(name string) *Material {
	return m.Materials[name]
}

// mtlState is the accumulator threaded through every line of one parse.
type mtlState struct {
	current *Material
	result  *MTL
}

// ParseMTL parses MTL text into materials keyed by name.
// Malformed lines and properties outside a newmtl block are skipped and
// reported in MTL.Warnings; ParseMTL itself does not fail on content.
func ParseMTL(data []byte) (*MTL, error) {
	s := &mtlState{
		result: &MTL{Materials: make(map[string]*Material)},
	}

	for i, raw := range encoding.SplitLines(encoding.DecodeText(data)) {
		l := tokenize(i+1, raw)
		if err := s.apply(l); err != nil {
			s.result.Warnings = append(s.result.Warnings, l.warning(err))
		}
	}

	return s.result, nil
}

// apply updates the state for one line.
func (s *mtlState) apply(l line) error {
	kind := classifyMTL(l.keyword)

	switch kind {
	case mtlLineBlank, mtlLineComment, mtlLineUnknown:
		return nil
	case mtlLineNewMtl:
		name, err := l.name()
		if err != nil {
			return err
		}
		s.startMaterial(name)
		return nil
	}

	m := s.current
	if m == nil {
		return fmt.Errorf("%s: %w", l.keyword, ErrNoCurrentMaterial)
	}

	var err error
	switch kind {
	case mtlLineAmbient:
		err = setColor(m, &m.Ambient, PropAmbient, l.args)
	case mtlLineDiffuse:
		err = setColor(m, &m.Diffuse, PropDiffuse, l.args)
	case mtlLineSpecular:
		err = setColor(m, &m.Specular, PropSpecular, l.args)
	case mtlLineEmission:
		err = setColor(m, &m.Emission, PropEmission, l.args)
	case mtlLineSpecularExponent:
		err = setScalar(m, &m.SpecularExponent, PropSpecularExponent, l.args)
	case mtlLineOpticalDensity:
		err = setScalar(m, &m.OpticalDensity, PropOpticalDensity, l.args)
	case mtlLineTransparency:
		err = setScalar(m, &m.Transparency, PropTransparency, l.args)
	case mtlLineDissolve:
		err = setScalar(m, &m.Dissolve, PropDissolve, l.args)
	case mtlLineIllumination:
		if len(l.args) == 0 {
			return fmt.Errorf("illum: %w", ErrMissingArguments)
		}
		illum, convErr := strconv.Atoi(l.args[0])
		if convErr != nil {
			return fmt.Errorf("%w: %q", ErrInvalidNumber, l.args[0])
		}
		m.Illumination = illum
		m.declared |= PropIllumination
	case mtlLineDiffuseMap:
		// Options such as "-s 1 1 1" precede the file name.
		if len(l.args) == 0 {
			return fmt.Errorf("map_Kd: %w", ErrMissingArguments)
		}
		m.DiffuseMap = encoding.BaseName(l.args[len(l.args)-1])
		m.declared |= PropDiffuseMap
	}
	return err
}

func (s *mtlState) startMaterial(name string) {
	m := &Material{Name: name}
	if _, exists := s.result.Materials[name]; !exists {
		s.result.Order = append(s.result.Order, name)
	}
	s.result.Materials[name] = m
	s.current = m
}

// setColor parses "r g b" or a single "r" applied to all channels.
func setColor(m *Material, dst *mgl32.Vec3, prop MaterialProp, args []string) error {
	if len(args) == 1 || len(args) == 2 {
		v, err := parseFloat(args[0])
		if err != nil {
			return err
		}
		*dst = mgl32.Vec3{v, v, v}
	} else {
		v, err := parseVec3(args)
		if err != nil {
			return err
		}
		*dst = v
	}
	m.declared |= prop
	return nil
}

func setScalar(m *Material, dst *float32, prop MaterialProp, args []string) error {
	if len(args) == 0 {
		return ErrMissingArguments
	}
	v, err := parseFloat(args[0])
	if err != nil {
		return err
	}
	*dst = v
	m.declared |= prop
	return nil
}
