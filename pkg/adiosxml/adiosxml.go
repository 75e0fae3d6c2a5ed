// Package adiosxml edits ADIOS XML configuration files to enable a
// transform (compression or reduction) on one variable.
package adiosxml

import (
	"errors"
	"fmt"

	"github.com/beevik/etree"
)

// ErrVariableNotFound is returned when the group/variable pair is not
// present in the XML document.
var ErrVariableNotFound = errors.New("adios variable not found")

// Transformer applies variable transforms to XML files in place.
type Transformer struct{}

// New returns a Transformer.
func New() *Transformer {
	return &Transformer{}
}

// Apply sets the transform attribute of variable in group to value.
//
// The variable is located at
// adios-group[@name=group]/global-bounds/var[@name=variable] below the
// document root, falling back to a direct adios-group/var child.
func (t *Transformer) Apply(path, group, variable, value string) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	root := doc.Root()
	if root == nil {
		return fmt.Errorf("%s: empty XML document", path)
	}

	el := findVar(root, group, variable)
	if el == nil {
		return fmt.Errorf("%w: %s:%s in %s", ErrVariableNotFound, group, variable, path)
	}
	el.CreateAttr("transform", value)

	if err := doc.WriteToFile(path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func findVar(root *etree.Element, group, variable string) *etree.Element {
	for _, g := range root.SelectElements("adios-group") {
		if g.SelectAttrValue("name", "") != group {
			continue
		}
		for _, gb := range g.SelectElements("global-bounds") {
			if v := selectVar(gb, variable); v != nil {
				return v
			}
		}
		if v := selectVar(g, variable); v != nil {
			return v
		}
	}
	return nil
}

func selectVar(parent *etree.Element, variable string) *etree.Element {
	for _, v := range parent.SelectElements("var") {
		if v.SelectAttrValue("name", "") == variable {
			return v
		}
	}
	return nil
}
