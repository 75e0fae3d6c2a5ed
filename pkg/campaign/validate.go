package campaign

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	schemasassets "github.com/3leaps/gosweep/internal/assets/schemas"
	"github.com/fulmenhq/gofulmen/schema"
)

// SchemaID is the schema identifier for campaign plans.
const SchemaID = "gosweep/v1.0.0/campaign-plan"

var (
	// ErrSchemaNotFound indicates the schema could not be located.
	ErrSchemaNotFound = errors.New("plan schema not found")

	// ErrValidationFailed indicates the plan failed validation.
	ErrValidationFailed = errors.New("plan validation failed")
)

var (
	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

// ValidationError represents a single validation issue.
type ValidationError struct {
	// Path is the JSON pointer to the problematic field (e.g., "/groups/0/runs").
	Path string

	Message string
}

// Error implements error interface.
func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("plan validation failed with %d errors:\n", len(e)))
	for i, err := range e {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error type.
func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// ValidateRaw checks raw JSON data against the embedded plan schema.
func ValidateRaw(jsonData []byte) error {
	v, err := getValidator()
	if err != nil {
		return err
	}

	diags, err := v.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if len(diags) == 0 {
		return nil
	}

	var errs ValidationErrors
	for _, d := range diags {
		if d.Severity == schema.SeverityError {
			errs = append(errs, ValidationError{
				Path:    d.Pointer,
				Message: d.Message,
			})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Check enforces the constraints the schema cannot express: unique group
// names, unique run ids per group, unique component names per run and a
// positive walltime.
func (p *Plan) Check() error {
	var errs ValidationErrors

	groups := make(map[string]bool, len(p.Groups))
	for gi, g := range p.Groups {
		gpath := fmt.Sprintf("/groups/%d", gi)
		if groups[g.Name] {
			errs = append(errs, ValidationError{Path: gpath + "/name", Message: fmt.Sprintf("duplicate group %q", g.Name)})
		}
		groups[g.Name] = true

		if g.Resources.Walltime <= 0 {
			errs = append(errs, ValidationError{Path: gpath + "/resources/walltime", Message: "walltime must be positive"})
		}

		runs := make(map[string]bool, len(g.Runs))
		for ri, r := range g.Runs {
			rpath := fmt.Sprintf("%s/runs/%d", gpath, ri)
			if runs[r.ID] {
				errs = append(errs, ValidationError{Path: rpath + "/id", Message: fmt.Sprintf("duplicate run id %q", r.ID)})
			}
			runs[r.ID] = true

			if len(r.Codes) == 0 {
				errs = append(errs, ValidationError{Path: rpath + "/codes", Message: "at least one code is required"})
			}
			codes := make(map[string]bool, len(r.Codes))
			for ci, c := range r.Codes {
				cpath := fmt.Sprintf("%s/codes/%d", rpath, ci)
				if codes[c.Name] {
					errs = append(errs, ValidationError{Path: cpath + "/name", Message: fmt.Sprintf("duplicate code %q", c.Name)})
				}
				codes[c.Name] = true
				if len(c.Argv) == 0 {
					errs = append(errs, ValidationError{Path: cpath + "/argv", Message: "argv must not be empty"})
				}
				if c.NProcs < 1 {
					errs = append(errs, ValidationError{Path: cpath + "/nprocs", Message: "nprocs must be >= 1"})
				}
			}
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func getValidator() (*schema.Validator, error) {
	validatorOnce.Do(func() {
		if len(schemasassets.CampaignPlanSchema) == 0 {
			validatorErr = fmt.Errorf("%w: embedded campaign-plan schema is empty", ErrSchemaNotFound)
			return
		}
		validator, validatorErr = schema.NewValidator(schemasassets.CampaignPlanSchema)
		if validatorErr != nil {
			validatorErr = fmt.Errorf("failed to compile plan schema: %w", validatorErr)
		}
	})
	return validator, validatorErr
}
