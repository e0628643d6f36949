package view

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openhvx/controller/internal/inventory"
	"github.com/openhvx/controller/internal/models"
	"github.com/openhvx/controller/internal/store"
)

var tracer = otel.Tracer("resource-view")

// Resource is one claimed resource joined with its latest inventory view.
// Orphaned entries are links whose resource no longer appears in any
// inventory tier.
type Resource struct {
	Kind       models.ResourceKind `json:"kind"`
	TenantID   string              `json:"tenantId,omitempty"`
	AgentID    string              `json:"agentId"`
	RefID      string              `json:"refId"`
	Name       string              `json:"name,omitempty"`
	Orphaned   bool                `json:"orphaned,omitempty"`
	AssignedAt *time.Time          `json:"assignedAt,omitempty"`

	VM     *inventory.VM      `json:"vm,omitempty"`
	Switch *inventory.VSwitch `json:"switch,omitempty"`
}

// Unassigned is an inventory entry no tenant has claimed yet.
type Unassigned struct {
	Kind    models.ResourceKind `json:"kind"`
	AgentID string              `json:"agentId"`
	RefID   string              `json:"refId"`
	Name    string              `json:"name,omitempty"`
	VM      *inventory.VM       `json:"vm,omitempty"`
	Switch  *inventory.VSwitch  `json:"switch,omitempty"`
}

// ListOptions narrows ListResources.
type ListOptions struct {
	Kind           models.ResourceKind
	AgentID        string
	IncludeOrphans bool
}

// Service resolves ownership links against the combined Full and Light
// inventory tiers. The light tier is never rejected: VMs get the freshest
// volatile state whichever tier reported last.
type Service struct {
	store  store.Store
	tracer trace.Tracer
}

// NewService creates a resource view service.
func NewService(st store.Store) *Service {
	return &Service{store: st, tracer: tracer}
}

// ListResources returns the tenant's claimed resources with live inventory
// data attached.
func (s *Service) ListResources(ctx context.Context, tenantID string, opts ListOptions) ([]Resource, error) {
	ctx, span := s.tracer.Start(ctx, "view.list_resources")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}

	links, err := s.store.ListLinks(ctx, store.LinkFilter{
		TenantID: tenantID,
		Kind:     opts.Kind,
		AgentID:  opts.AgentID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list resource links: %w", err)
	}
	if len(links) == 0 {
		return []Resource{}, nil
	}

	agentIDs := agentSet(links)
	combined, fullByAgent, err := s.combineAgents(ctx, agentIDs)
	if err != nil {
		return nil, err
	}

	vmIdx := make(map[string]map[string]*inventory.VM, len(combined))
	for agentID, vms := range combined {
		idx := make(map[string]*inventory.VM)
		for i := range vms {
			vm := &vms[i]
			for _, k := range []string{vm.GUID, vm.ID, vm.Name} {
				if k != "" {
					idx[k] = vm
				}
			}
		}
		vmIdx[agentID] = idx
	}

	out := make([]Resource, 0, len(links))
	for _, l := range links {
		assignedAt := l.AssignedAt
		res := Resource{
			Kind:       l.Kind,
			TenantID:   tenantID,
			AgentID:    l.AgentID,
			RefID:      l.RefID,
			AssignedAt: &assignedAt,
		}

		switch l.Kind {
		case models.KindVM:
			vm := lookupVM(vmIdx[l.AgentID], l.RefID)
			if vm != nil {
				res.Name = vm.Name
				res.VM = vm
				out = append(out, res)
			} else if opts.IncludeOrphans {
				res.Name = l.RefID
				res.Orphaned = true
				out = append(out, res)
			}

		case models.KindSwitch:
			// switches stay full-first: the full tier carries the richer
			// switch structure and light reports rarely include them
			sw := lookupSwitch(fullByAgent[l.AgentID], l.RefID)
			if sw != nil {
				res.Name = sw.Name
				res.Switch = sw
				out = append(out, res)
			} else if opts.IncludeOrphans {
				res.Name = l.RefID
				res.Orphaned = true
				out = append(out, res)
			}

		default:
			out = append(out, res)
		}
	}
	return out, nil
}

// ListUnassigned returns inventory entries without an ownership link,
// capped at limit.
func (s *Service) ListUnassigned(ctx context.Context, kind models.ResourceKind, agentID string, limit int) ([]Unassigned, error) {
	ctx, span := s.tracer.Start(ctx, "view.list_unassigned")
	defer span.End()

	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var agentIDs []string
	if agentID != "" {
		agentIDs = []string{agentID}
	}
	snaps, err := s.store.ListInventories(ctx, models.TierFull, agentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list inventories: %w", err)
	}

	var candidates []Unassigned
	for i := range snaps {
		candidates = append(candidates, pickCandidates(&snaps[i], kind)...)
	}
	if len(candidates) == 0 {
		return []Unassigned{}, nil
	}

	links, err := s.store.ListLinks(ctx, store.LinkFilter{Kind: kind, AgentID: agentID})
	if err != nil {
		return nil, fmt.Errorf("failed to list resource links: %w", err)
	}
	assigned := make(map[string]struct{}, len(links))
	for _, l := range links {
		assigned[linkKey(l.Kind, l.AgentID, l.RefID)] = struct{}{}
	}

	seen := make(map[string]struct{})
	out := make([]Unassigned, 0, limit)
	for _, c := range candidates {
		k := linkKey(c.Kind, c.AgentID, c.RefID)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if _, taken := assigned[k]; taken {
			continue
		}
		out = append(out, c)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// AgentInventory returns the combined VM view plus the raw tiers for one
// agent.
func (s *Service) AgentInventory(ctx context.Context, agentID string) (map[string]interface{}, error) {
	ctx, span := s.tracer.Start(ctx, "view.agent_inventory")
	defer span.End()
	span.SetAttributes(attribute.String("agent.id", agentID))

	full, err := s.store.GetInventory(ctx, models.TierFull, agentID)
	if err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("failed to get full inventory: %w", err)
	}
	light, err := s.store.GetInventory(ctx, models.TierLight, agentID)
	if err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("failed to get light inventory: %w", err)
	}
	if full == nil && light == nil {
		return nil, store.ErrNotFound
	}

	vms := inventory.Combine(full.Timed(), light.Timed())
	return map[string]interface{}{
		"agentId": agentID,
		"vms":     vms,
		"full":    full,
		"light":   light,
	}, nil
}

func (s *Service) combineAgents(ctx context.Context, agentIDs []string) (map[string][]inventory.VM, map[string]*models.InventorySnapshot, error) {
	fullSnaps, err := s.store.ListInventories(ctx, models.TierFull, agentIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list full inventories: %w", err)
	}
	lightSnaps, err := s.store.ListInventories(ctx, models.TierLight, agentIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list light inventories: %w", err)
	}

	fullBy := make(map[string]*models.InventorySnapshot, len(fullSnaps))
	for i := range fullSnaps {
		fullBy[fullSnaps[i].AgentID] = &fullSnaps[i]
	}
	lightBy := make(map[string]*models.InventorySnapshot, len(lightSnaps))
	for i := range lightSnaps {
		lightBy[lightSnaps[i].AgentID] = &lightSnaps[i]
	}

	combined := make(map[string][]inventory.VM, len(agentIDs))
	for _, agentID := range agentIDs {
		combined[agentID] = inventory.Combine(fullBy[agentID].Timed(), lightBy[agentID].Timed())
	}
	return combined, fullBy, nil
}

func lookupVM(idx map[string]*inventory.VM, refID string) *inventory.VM {
	if idx == nil {
		return nil
	}
	if vm := idx[refID]; vm != nil {
		return vm
	}
	// fallback: case-insensitive name match, for links claimed by name
	// before the agent reported a guid
	wanted := strings.ToLower(refID)
	for _, vm := range idx {
		if strings.ToLower(vm.Name) == wanted {
			return vm
		}
	}
	return nil
}

func lookupSwitch(snap *models.InventorySnapshot, name string) *inventory.VSwitch {
	if snap == nil || snap.Inventory == nil || snap.Inventory.Networks == nil {
		return nil
	}
	for i := range snap.Inventory.Networks.Switches {
		if snap.Inventory.Networks.Switches[i].Name == name {
			sw := snap.Inventory.Networks.Switches[i]
			return &sw
		}
	}
	return nil
}

func pickCandidates(snap *models.InventorySnapshot, kind models.ResourceKind) []Unassigned {
	if snap.Inventory == nil {
		return nil
	}
	var out []Unassigned
	if kind == "" || kind == models.KindVM {
		for i := range snap.Inventory.VMs {
			vm := snap.Inventory.VMs[i]
			if key := vm.Key(); key != "" {
				out = append(out, Unassigned{
					Kind:    models.KindVM,
					AgentID: snap.AgentID,
					RefID:   key,
					Name:    vm.Name,
					VM:      &vm,
				})
			}
		}
	}
	if (kind == "" || kind == models.KindSwitch) && snap.Inventory.Networks != nil {
		for i := range snap.Inventory.Networks.Switches {
			sw := snap.Inventory.Networks.Switches[i]
			if sw.Name != "" {
				out = append(out, Unassigned{
					Kind:    models.KindSwitch,
					AgentID: snap.AgentID,
					RefID:   sw.Name,
					Name:    sw.Name,
					Switch:  &sw,
				})
			}
		}
	}
	return out
}

func agentSet(links []models.TenantResourceLink) []string {
	seen := make(map[string]struct{}, len(links))
	var out []string
	for _, l := range links {
		if _, ok := seen[l.AgentID]; !ok {
			seen[l.AgentID] = struct{}{}
			out = append(out, l.AgentID)
		}
	}
	return out
}

func linkKey(kind models.ResourceKind, agentID, refID string) string {
	return string(kind) + "|" + agentID + "|" + refID
}
