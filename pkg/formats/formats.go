// Package formats provides parsers for Wavefront OBJ and MTL asset files.
package formats

// Note: OBJ (geometry) is implemented in obj.go
// Note: MTL (material library) is implemented in mtl.go
// Note: line tokenizing and warnings shared by both live in wavefront.go
