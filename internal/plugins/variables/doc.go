// Package variables implements the "variables" plugin: user-defined state
// cells declared in a YAML file and changed by automations.
//
// File format:
//
//	variables:
//	  scene:
//	    type: string
//	    default: "off"
//	    serialized: true
//	  brightness:
//	    default: 50
//
// A variable without a type takes the type of its default, or number when
// it has none.
//
// Actions:
//
//	variables.set     {name, value}         value may be a template
//	variables.inc     {name, amount?}       number cells only, amount defaults to 1
//	variables.define  {name, type?, default?, serialized?}
//	variables.remove  {name}
//
// Defining or removing a variable rebuilds every profile's dependencies,
// so conditions written against a variable that did not exist yet start
// tracking it.
package variables
