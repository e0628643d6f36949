package enrich

import (
	"context"
	"fmt"

	"github.com/openhvx/controller/internal/images"
	"github.com/openhvx/controller/internal/models"
)

// RegisterDefaults wires the built-in enrichments. vm.create and vm.clone
// resolve imageId to imagePath against the catalog; vm.edit passes through
// so payload validation hooks can attach later.
func RegisterDefaults(r *Registry, catalog *images.Catalog) {
	resolveImage := func(ctx context.Context, payload map[string]interface{}, _ Context) (map[string]interface{}, error) {
		out := clonePayload(payload)
		if p, _ := out["imagePath"].(string); p != "" {
			return out, nil
		}
		imageID, _ := out["imageId"].(string)
		if imageID == "" {
			return out, nil
		}
		path, err := catalog.ResolvePath(imageID)
		if err != nil {
			return nil, fmt.Errorf("imageId not found: %s", imageID)
		}
		out["imagePath"] = path
		return out, nil
	}

	determineImage := func(ctx context.Context, payload map[string]interface{}, ec Context) (map[string]interface{}, error) {
		if p, _ := payload["imagePath"].(string); p != "" {
			return clonePayload(payload), nil
		}
		if id, _ := payload["imageId"].(string); id == "" {
			return nil, fmt.Errorf("imageId is required for determineImage")
		}
		return resolveImage(ctx, payload, ec)
	}

	passthrough := func(_ context.Context, payload map[string]interface{}, _ Context) (map[string]interface{}, error) {
		return clonePayload(payload), nil
	}

	r.Register(models.ActionVMCreate, "auto", resolveImage)
	r.Register(models.ActionVMCreate, "determineImage", determineImage)
	r.Register(models.ActionVMClone, "auto", resolveImage)
	r.Register(models.ActionVMClone, "determineImage", determineImage)
	r.Register(models.ActionVMEdit, "auto", passthrough)
}
