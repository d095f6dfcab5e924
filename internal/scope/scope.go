// Package scope centralizes role and impersonation handling. Every other
// component consumes the resolved RoleScope; none of them ever look at raw
// session or impersonation flags.
package scope

import (
	"go.uber.org/zap"

	"github.com/sebtcheng/insighted-monitor/internal/diag"
	"github.com/sebtcheng/insighted-monitor/internal/model"
)

// Request carries the caller identity as the upstream auth layer resolved
// it, plus an optional impersonation context for national-role actors.
type Request struct {
	RoleLabel     string
	HomeRegion    string
	HomeDivision  string
	Impersonation *model.ImpersonationContext
}

// Resolver turns a caller identity into a RoleScope, once per request.
type Resolver struct {
	diag *diag.Counters
}

// New creates a Resolver reporting anomalies to the given counters.
func New(d *diag.Counters) *Resolver {
	return &Resolver{diag: d}
}

// Resolve applies the pinning rules:
//
//   - national role: nothing pinned, stats follow the drill-down path
//   - regional role: pinned to the home region regardless of drill-down
//   - division role: pinned to the home division regardless of drill-down
//   - impersonation: a national actor assumes a field role; the pin comes
//     from the impersonation context, not the actor's own profile
//
// An unrecognized role label falls back to national (unpinned) behavior
// with a warning. Resolve never fails closed.
func (r *Resolver) Resolve(req Request) model.RoleScope {
	role, ok := model.ParseRole(req.RoleLabel)
	if !ok {
		if r.diag != nil {
			r.diag.UnknownRole()
		}
		zap.L().Warn("unknown role, falling back to national scope",
			zap.String("role", req.RoleLabel),
		)
		return model.RoleScope{Role: model.RoleNational}
	}

	if role == model.RoleNational && req.Impersonation != nil {
		imp := req.Impersonation
		switch imp.AssumedRole {
		case model.RoleRegional:
			return model.RoleScope{
				Role:            model.RoleRegional,
				EffectiveRegion: imp.Region,
				Impersonating:   true,
			}
		case model.RoleDivision:
			return model.RoleScope{
				Role:              model.RoleDivision,
				EffectiveRegion:   imp.Region,
				EffectiveDivision: imp.Division,
				Impersonating:     true,
			}
		default:
			if r.diag != nil {
				r.diag.UnknownRole()
			}
			zap.L().Warn("unknown assumed role, ignoring impersonation",
				zap.String("assumed_role", string(imp.AssumedRole)),
			)
		}
	}

	switch role {
	case model.RoleRegional:
		return model.RoleScope{Role: role, EffectiveRegion: req.HomeRegion}
	case model.RoleDivision:
		return model.RoleScope{
			Role:              role,
			EffectiveRegion:   req.HomeRegion,
			EffectiveDivision: req.HomeDivision,
		}
	default:
		return model.RoleScope{Role: model.RoleNational}
	}
}
