package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/progsync/internal/model"
)

//go:embed schema.cue
var schemaCUE []byte

//go:embed default.cue
var defaultCUE []byte

// Error code constants. E00x match the loader codes used across the CLI.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE parse failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // Schema violation
	ErrCodeAnswerRange = "E101" // Answer index outside options
	ErrCodeDuplicate   = "E102" // Duplicate lesson id or quiz code
	ErrCodeNoModules   = "E103" // Catalog defines no modules
)

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadError is a catalog error with an optional CUE position.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type source struct {
	name string
	data []byte
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, errs := build([]source{{name: "default.cue", data: defaultCUE}}, LoadModeFailFast)
	if len(errs) > 0 {
		panic(fmt.Sprintf("catalog: built-in catalog is invalid: %v", errs[0]))
	}
	return c
}

// Load reads every .cue file under dir.
func Load(dir string, mode LoadMode) (*Catalog, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("catalog directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing catalog directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	srcs := make([]source, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading %s: %v", f, err)}}
		}
		srcs = append(srcs, source{name: f, data: data})
	}
	return build(srcs, mode)
}

// Parse compiles a single CUE document.
func Parse(name string, data []byte) (*Catalog, []error) {
	return build([]source{{name: name, data: data}}, LoadModeCollectAll)
}

// FindCUEFiles walks the directory and returns all .cue file paths, sorted.
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
	sort.Strings(files)
	return files, err
}

func build(srcs []source, mode LoadMode) (*Catalog, []error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(schemaCUE, cue.Filename("schema.cue"))
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("schema: %v", err)}}
	}

	var errs []error
	for _, src := range srcs {
		v := ctx.CompileBytes(src.data, cue.Filename(src.name))
		if err := v.Err(); err != nil {
			errs = append(errs, convertCUEError(ErrCodeLoadFailed, err)...)
			if mode == LoadModeFailFast {
				return nil, errs[:1]
			}
			continue
		}
		value = value.Unify(v)
	}
	if len(errs) > 0 {
		return nil, errs
	}

	if err := value.Validate(cue.Concrete(true)); err != nil {
		errs = convertCUEError(ErrCodeBuildFailed, err)
		if mode == LoadModeFailFast {
			return nil, errs[:1]
		}
		return nil, errs
	}

	modsVal := value.LookupPath(cue.ParsePath("module"))
	if !modsVal.Exists() {
		return nil, []error{&LoadError{Code: ErrCodeNoModules, Message: "no modules defined"}}
	}
	iter, err := modsVal.Fields()
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating modules: %v", err)}}
	}

	var mods []*Module
	for iter.Next() {
		m := &Module{}
		if err := iter.Value().Decode(m); err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("module %s: %v", iter.Selector().Unquoted(), err), Pos: iter.Value().Pos()})
			if mode == LoadModeFailFast {
				return nil, errs
			}
			continue
		}
		mods = append(mods, m)
		for _, verr := range validateModule(m, iter.Value()) {
			errs = append(errs, verr)
			if mode == LoadModeFailFast {
				return nil, errs
			}
		}
	}
	if len(mods) == 0 && len(errs) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoModules, Message: "no modules defined"}}
	}

	errs = append(errs, validateQuizCodes(mods)...)
	if len(errs) > 0 {
		if mode == LoadModeFailFast {
			return nil, errs[:1]
		}
		return nil, errs
	}
	return newCatalog(mods), nil
}

// validateModule checks what the schema cannot express.
func validateModule(m *Module, v cue.Value) []error {
	var errs []error
	seen := make(map[string]bool)
	for i, l := range m.Lessons {
		id := model.LessonID(l.ID, l.Title, i)
		if seen[id] {
			errs = append(errs, &LoadError{
				Code:    ErrCodeDuplicate,
				Message: fmt.Sprintf("module %s: duplicate lesson id %q", m.Slug, id),
				Pos:     posOf(v, fmt.Sprintf("lessons[%d]", i)),
			})
		}
		seen[id] = true
	}
	for qi, q := range m.Quizzes {
		for i, question := range q.Questions {
			if question.Answer >= len(question.Options) {
				errs = append(errs, &LoadError{
					Code:    ErrCodeAnswerRange,
					Message: fmt.Sprintf("quiz %s question %d: answer %d out of range [0,%d)", q.Code, i+1, question.Answer, len(question.Options)),
					Pos:     posOf(v, fmt.Sprintf("quizzes[%d].questions[%d].answer", qi, i)),
				})
			}
		}
	}
	return errs
}

// validateQuizCodes rejects a quiz code used twice on one track; both
// would share every storage key.
func validateQuizCodes(mods []*Module) []error {
	var errs []error
	seen := make(map[string]string)
	for _, m := range mods {
		for _, q := range m.Quizzes {
			k := string(m.Track) + "/" + q.Code
			if prev, ok := seen[k]; ok {
				errs = append(errs, &LoadError{
					Code:    ErrCodeDuplicate,
					Message: fmt.Sprintf("quiz code %q used by modules %s and %s", q.Code, prev, m.Slug),
				})
				continue
			}
			seen[k] = m.Slug
		}
	}
	return errs
}

func posOf(v cue.Value, path string) token.Pos {
	if p := v.LookupPath(cue.ParsePath(path)); p.Exists() {
		return p.Pos()
	}
	return v.Pos()
}

// convertCUEError splits a CUE error into one LoadError per position.
func convertCUEError(code string, err error) []error {
	var errs []error
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		errs = append(errs, &LoadError{
			Code:    code,
			Message: fmt.Sprintf(format, args...),
			Pos:     e.Position(),
		})
	}
	if len(errs) == 0 {
		errs = append(errs, &LoadError{Code: code, Message: err.Error()})
	}
	return errs
}
