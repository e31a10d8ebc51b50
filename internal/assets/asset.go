package assets

import "github.com/Faultbox/objwatch/pkg/formats"

// Asset is one parsed asset directory, built fresh for every fetch.
// An Asset may be shared by concurrent callers of Fetch and must be treated
// as read-only.
type Asset struct {
	Name          string                       `json:"name"`
	Objects       map[string]*formats.Object   `json:"objects"`
	Materials     map[string]*formats.Material `json:"materials"`
	ImageTextures map[string][]byte            `json:"imageTextures"` // Raw file bytes by file name

	ObjectOrder  []string `json:"-"` // Object names in OBJ file order
	MaterialLibs []string `json:"-"` // mtllib references from the OBJ file
	ObjFile      string   `json:"-"`
	MtlFile      string   `json:"-"`
	WarningCount int      `json:"-"` // Skipped lines across both files
}

// PrimaryMaterial returns the first material used by an object.
// Renderers bind one material and one texture per object; further usemtl
// entries are not drawn.
func (a *Asset) PrimaryMaterial(object string) (*formats.Material, bool) {
	obj, ok := a.Objects[object]
	if !ok || len(obj.Materials) == 0 {
		return nil, false
	}
	m, ok := a.Materials[obj.Materials[0]]
	return m, ok
}

// PrimaryImage returns the diffuse texture bytes of an object's primary material.
func (a *Asset) PrimaryImage(object string) ([]byte, bool) {
	m, ok := a.PrimaryMaterial(object)
	if !ok || m.DiffuseMap == "" {
		return nil, false
	}
	data, ok := a.ImageTextures[m.DiffuseMap]
	return data, ok
}
