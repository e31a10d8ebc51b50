package formats

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

const testMTL = `# Blender MTL File
Kd 9 9 9
newmtl Wood
Ns 96.078431
Ka 1.000000 1.000000 1.000000
Kd 0.640000 0.640000 0.640000
Ks 0.500000 0.500000 0.500000
Ke 0.000000 0.000000 0.000000
Ni 1.000000
d 1.000000
illum 2
map_Kd /home/artist/textures/wood.jpeg

newmtl Glass
Kd 0.1 0.2 0.3
Tr 0.75
d 0.25
`

func TestParseMTL_TwoMaterials(t *testing.T) {
	mtl, err := ParseMTL([]byte(testMTL))
	if err != nil {
		t.Fatalf("ParseMTL failed: %v", err)
	}

	if len(mtl.Materials) != 2 {
		t.Fatalf("expected 2 materials, got %d", len(mtl.Materials))
	}
	if len(mtl.Order) != 2 || mtl.Order[0] != "Wood" || mtl.Order[1] != "Glass" {
		t.Errorf("unexpected order: %v", mtl.Order)
	}

	wood := mtl.Material("Wood")
	if wood.SpecularExponent != float32(96.078431) {
		t.Errorf("Ns = %f, want 96.078431", wood.SpecularExponent)
	}
	if wood.Ambient != (mgl32.Vec3{1, 1, 1}) {
		t.Errorf("Ka = %v", wood.Ambient)
	}
	if wood.Diffuse != (mgl32.Vec3{0.64, 0.64, 0.64}) {
		t.Errorf("Kd = %v", wood.Diffuse)
	}
	if wood.Specular != (mgl32.Vec3{0.5, 0.5, 0.5}) {
		t.Errorf("Ks = %v", wood.Specular)
	}
	if !wood.Has(PropEmission) || wood.Emission != (mgl32.Vec3{}) {
		t.Errorf("Ke = %v declared=%v", wood.Emission, wood.Has(PropEmission))
	}
	if wood.OpticalDensity != 1 {
		t.Errorf("Ni = %f, want 1", wood.OpticalDensity)
	}
	if wood.Dissolve != 1 {
		t.Errorf("d = %f, want 1", wood.Dissolve)
	}
	if wood.Illumination != 2 {
		t.Errorf("illum = %d, want 2", wood.Illumination)
	}
	if wood.DiffuseMap != "wood.jpeg" {
		t.Errorf("map_Kd = %q, want wood.jpeg", wood.DiffuseMap)
	}

	glass := mtl.Material("Glass")
	if glass.Diffuse != (mgl32.Vec3{0.1, 0.2, 0.3}) {
		t.Errorf("Glass Kd = %v", glass.Diffuse)
	}
	if glass.Transparency != 0.75 || glass.Dissolve != 0.25 {
		t.Errorf("Glass Tr/d = %f/%f", glass.Transparency, glass.Dissolve)
	}

	// Only properties declared inside the Glass block.
	for _, p := range []MaterialProp{PropAmbient, PropSpecular, PropEmission, PropSpecularExponent, PropOpticalDensity, PropIllumination, PropDiffuseMap} {
		if glass.Has(p) {
			t.Errorf("Glass unexpectedly has property %d", p)
		}
	}
	if glass.Ambient != (mgl32.Vec3{}) || glass.DiffuseMap != "" {
		t.Errorf("Glass leaked properties from Wood: Ka=%v map_Kd=%q", glass.Ambient, glass.DiffuseMap)
	}
}

func TestParseMTL_PropertyBeforeNewmtlDropped(t *testing.T) {
	mtl, err := ParseMTL([]byte(testMTL))
	if err != nil {
		t.Fatalf("ParseMTL failed: %v", err)
	}

	if len(mtl.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d: %v", len(mtl.Warnings), mtl.Warnings)
	}
	if !errors.Is(mtl.Warnings[0], ErrNoCurrentMaterial) {
		t.Errorf("expected ErrNoCurrentMaterial, got %v", mtl.Warnings[0])
	}
	if mtl.Warnings[0].Line != 2 {
		t.Errorf("warning line = %d, want 2", mtl.Warnings[0].Line)
	}
	for name, m := range mtl.Materials {
		if m.Diffuse == (mgl32.Vec3{9, 9, 9}) {
			t.Errorf("orphan Kd attached to %s", name)
		}
	}
}

func TestParseMTL_DiffuseMapPaths(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"map_Kd wood.jpeg", "wood.jpeg"},
		{"map_Kd textures/wood.jpeg", "wood.jpeg"},
		{`map_Kd C:\art\wood.jpeg`, "wood.jpeg"},
		{"map_Kd -s 1 1 1 -o 0 0 0 wood.jpeg", "wood.jpeg"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			mtl, err := ParseMTL([]byte("newmtl m\n" + tt.line + "\n"))
			if err != nil {
				t.Fatalf("ParseMTL failed: %v", err)
			}
			if got := mtl.Material("m").DiffuseMap; got != tt.want {
				t.Errorf("DiffuseMap = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseMTL_MalformedLines(t *testing.T) {
	data := []byte(`newmtl m
Ka 1 x 1
Ns
illum two
Kd 0.5
unknown 1 2 3
d 0.5
`)

	mtl, err := ParseMTL(data)
	if err != nil {
		t.Fatalf("ParseMTL failed: %v", err)
	}

	if len(mtl.Warnings) != 3 {
		t.Errorf("expected 3 warnings, got %d: %v", len(mtl.Warnings), mtl.Warnings)
	}

	m := mtl.Material("m")
	if m.Has(PropAmbient) || m.Has(PropSpecularExponent) || m.Has(PropIllumination) {
		t.Error("malformed lines should not mark properties as declared")
	}
	if m.Diffuse != (mgl32.Vec3{0.5, 0.5, 0.5}) {
		t.Errorf("single-value Kd = %v, want [0.5 0.5 0.5]", m.Diffuse)
	}
	if m.Dissolve != 0.5 {
		t.Errorf("d = %f, want 0.5", m.Dissolve)
	}
}

func TestParseMTL_Redefinition(t *testing.T) {
	mtl, err := ParseMTL([]byte("newmtl m\nNs 10\nnewmtl m\nNi 2\n"))
	if err != nil {
		t.Fatalf("ParseMTL failed: %v", err)
	}

	if len(mtl.Order) != 1 {
		t.Errorf("expected 1 material name, got %v", mtl.Order)
	}
	m := mtl.Material("m")
	if m.Has(PropSpecularExponent) {
		t.Error("redefinition should reset the material")
	}
	if m.OpticalDensity != 2 {
		t.Errorf("Ni = %f, want 2", m.OpticalDensity)
	}
}

func TestMaterial_JSONDeclaredOnly(t *testing.T) {
	mtl, err := ParseMTL([]byte("newmtl Glass\nKd 0.5 0.5 1\nillum 0\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := json.Marshal(mtl.Material("Glass"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal fields: %v", err)
	}
	for _, key := range []string{"diffuseColor", "illuminationModel"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("declared %q missing from %s", key, data)
		}
	}
	for _, key := range []string{"dissolve", "ambientColor", "specularHighlights", "imageTextureName"} {
		if _, ok := fields[key]; ok {
			t.Errorf("undeclared %q present in %s", key, data)
		}
	}

	var back Material
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Has(PropDiffuse | PropIllumination) {
		t.Error("decoded material lost declared properties")
	}
	if back.Has(PropDissolve) {
		t.Error("decoded material declares dissolve")
	}
	if back.Diffuse != (mgl32.Vec3{0.5, 0.5, 1}) {
		t.Errorf("diffuse = %v, want [0.5 0.5 1]", back.Diffuse)
	}
}
