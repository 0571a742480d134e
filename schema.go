package postmsg

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// CompileSchemaFile compiles the JSON schema at path for use with
// WithSchema. It's a thin convenience wrapper: jsonschema.Compiler already
// resolves file:// references relative to path on its own.
func CompileSchemaFile(path string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	schema, err := c.Compile(path)
	if err != nil {
		return nil, fmt.Errorf("postmsg: compiling schema %s: %w", path, err)
	}
	return schema, nil
}

// CompileSchemaBytes compiles raw JSON schema document data under a
// synthetic resource name, for callers that have the schema embedded or
// fetched rather than on disk.
func CompileSchemaBytes(name string, data []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("postmsg: unmarshaling schema %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("postmsg: adding schema resource %s: %w", name, err)
	}
	schema, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("postmsg: compiling schema %s: %w", name, err)
	}
	return schema, nil
}
