package items

import (
	"regexp"
	"strings"

	"github.com/atelier-erp/atelier-erp/internal/shared"
)

var idPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

func validate(item Item) shared.FieldErrors {
	errs := shared.FieldErrors{}
	if item.ID == "" {
		errs["id"] = "item id is required"
	} else if !idPattern.MatchString(item.ID) {
		errs["id"] = "item id must match ^[a-z0-9-]+$"
	}
	if strings.TrimSpace(item.Name) == "" {
		errs["name"] = "item name is required"
	}
	return errs
}

func validateInitial(initial InitialStock) shared.FieldErrors {
	errs := shared.FieldErrors{}
	if initial.Quantity < 0 {
		errs["initial.quantity"] = "initial quantity cannot be negative"
	}
	if initial.UnitCost < 0 {
		errs["initial.unit_cost"] = "initial unit cost cannot be negative"
	}
	return errs
}

func validatePatch(patch Patch) shared.FieldErrors {
	errs := shared.FieldErrors{}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		errs["name"] = "item name cannot be empty"
	}
	return errs
}
