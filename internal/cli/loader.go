package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/lithoslog/lithos/internal/compiler"
	"github.com/lithoslog/lithos/internal/schema"
	"github.com/lithoslog/lithos/internal/value"
)

// LoadError represents an error that occurred during schema loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadSchemaDir loads the CUE files in a directory and compiles the
// schema declared under the top-level "schema" path.
func LoadSchemaDir(dir string) (*schema.Schema, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing schema directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	built := ctx.BuildInstance(inst)
	if err := built.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	schemaVal := built.LookupPath(cue.ParsePath("schema"))
	if !schemaVal.Exists() {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: "no top-level schema declared"}
	}

	s, err := compiler.CompileSchema(schemaVal)
	if err != nil {
		if cErr, ok := err.(*compiler.CompileError); ok {
			return nil, &LoadError{Code: ErrCodeBuildFailed, Message: cErr.Message, Pos: cErr.Pos}
		}
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: err.Error()}
	}
	return s, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// LoadRecord reads raw field values from a YAML record file. Scalars map
// directly onto engine values; nested structures are rejected.
func LoadRecord(path string, s *schema.Schema) (map[string]value.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeBadRecord, Message: fmt.Sprintf("reading record: %v", err)}
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &LoadError{Code: ErrCodeBadRecord, Message: fmt.Sprintf("parsing record: %v", err)}
	}

	values := make(map[string]value.Value, len(raw))
	for fieldID, entry := range raw {
		if s.Field(fieldID) == nil {
			return nil, &LoadError{Code: ErrCodeBadRecord, Message: fmt.Sprintf("record field %q is not in schema %q", fieldID, s.Name)}
		}
		v, err := value.FromAny(entry)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeBadRecord, Message: fmt.Sprintf("record field %q: %v", fieldID, err)}
		}
		values[fieldID] = v
	}
	return values, nil
}

// ParseSetArg parses one --set argument of the form field=value, coercing
// the value text to the field's declared type.
func ParseSetArg(arg string, s *schema.Schema) (fieldID string, v value.Value, err error) {
	eq := strings.Index(arg, "=")
	if eq <= 0 {
		return "", nil, &LoadError{Code: ErrCodeBadSet, Message: fmt.Sprintf("malformed --set %q, expected field=value", arg)}
	}
	fieldID = arg[:eq]
	text := arg[eq+1:]

	f := s.Field(fieldID)
	if f == nil {
		return "", nil, &LoadError{Code: ErrCodeBadSet, Message: fmt.Sprintf("--set field %q is not in schema %q", fieldID, s.Name)}
	}

	v, err = coerceValue(text, f.Type)
	if err != nil {
		return "", nil, &LoadError{Code: ErrCodeBadSet, Message: fmt.Sprintf("--set %s: %v", fieldID, err)}
	}
	return fieldID, v, nil
}

// coerceValue converts CLI value text to the field's type. The literal
// "null" clears a field regardless of type.
func coerceValue(text string, t schema.FieldType) (value.Value, error) {
	if text == "null" {
		return value.Null{}, nil
	}
	switch t {
	case schema.TypeNumber:
		d, err := decimal.NewFromString(text)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", text)
		}
		return value.Num{D: d}, nil
	case schema.TypeBool:
		switch text {
		case "true":
			return value.Bool(true), nil
		case "false":
			return value.Bool(false), nil
		}
		return nil, fmt.Errorf("not a bool: %q", text)
	default:
		return value.Str(text), nil
	}
}
