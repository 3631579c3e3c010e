package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/castwell/mediaflow/internal/acl"
	"github.com/castwell/mediaflow/internal/models"
)

// ACLHandler exposes the read/edit surface of the ACL engine: the
// user-level capability list for a resource, and replacing it.
type ACLHandler struct {
	engine *acl.Engine
}

// NewACLHandler creates an ACLHandler backed by engine.
func NewACLHandler(engine *acl.Engine) *ACLHandler {
	return &ACLHandler{engine: engine}
}

// Register registers the ACL routes with the API.
func (h *ACLHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getResourceACL",
		Method:      "GET",
		Path:        "/api/v1/acl",
		Summary:     "Read a resource's user-level ACL",
		Description: "Returns the capability row for every user granted access to a resource",
		Tags:        []string{"ACL"},
	}, h.GetACL)

	huma.Register(api, huma.Operation{
		OperationID: "editResourceACL",
		Method:      "PATCH",
		Path:        "/api/v1/acl",
		Summary:     "Replace a resource's user-level ACL",
		Description: "Computes the insert/update/delete diff against the existing rows and persists it transactionally",
		Tags:        []string{"ACL"},
	}, h.EditACL)
}

// aclEntry is one row of a resource's user-level capability list, shared by
// the read and edit request/response bodies.
type aclEntry struct {
	UsrID     uint64 `json:"usr_id"`
	Transcode bool   `json:"transcode"`
	EditACL   bool   `json:"edit_acl"`
}

// GetACLInput is the input for reading a resource's ACL.
type GetACLInput struct {
	UsrID      uint64 `header:"X-Usr-Id" required:"true"`
	ResourceID string `query:"id" required:"true"`
}

type getACLBody struct {
	Size int        `json:"size"`
	Data []aclEntry `json:"data"`
}

// GetACLOutput is the output for reading a resource's ACL.
type GetACLOutput struct {
	Body getACLBody
}

// GetACL returns the user-level capability rows for a resource. Any caller
// may read the list; it carries no information beyond which users have been
// granted access, and the owner check belongs to EditACL.
func (h *ACLHandler) GetACL(ctx context.Context, input *GetACLInput) (*GetACLOutput, error) {
	resourceID, err := models.ParseULID(input.ResourceID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid resource id", err)
	}

	verify, err := h.engine.VerifyResourceID(ctx, resourceID, false)
	if err != nil {
		return nil, huma.Error500InternalServerError("verifying resource", err)
	}
	if !verify.Exists {
		return nil, huma.Error404NotFound("unknown resource")
	}

	rows, err := h.engine.ResourceACLLoad(ctx, resourceID, 0)
	if err != nil {
		return nil, huma.Error500InternalServerError("loading acl", err)
	}

	data := make([]aclEntry, 0, len(rows))
	for _, row := range rows {
		data = append(data, aclEntry{
			UsrID:     row.UsrID,
			Transcode: row.Capability.Transcode,
			EditACL:   row.Capability.EditACL,
		})
	}

	return &GetACLOutput{Body: getACLBody{Size: len(data), Data: data}}, nil
}

// EditACLInput is the input for replacing a resource's ACL.
type EditACLInput struct {
	UsrID uint64 `header:"X-Usr-Id" required:"true"`
	Body  struct {
		ResourceID string     `json:"resource_id"`
		Entries    []aclEntry `json:"entries"`
	}
}

type editACLBody struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Deleted  int `json:"deleted"`
}

// EditACLOutput is the output for replacing a resource's ACL.
type EditACLOutput struct {
	Body editACLBody
}

// EditACL replaces the requested resource's user-level ACL rows with the
// given set, 403ing callers who are neither the owner nor already holding
// edit_acl capability, and 400ing a request that changes nothing.
func (h *ACLHandler) EditACL(ctx context.Context, input *EditACLInput) (*EditACLOutput, error) {
	resourceID, err := models.ParseULID(input.Body.ResourceID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid resource id", err)
	}

	canEdit, err := h.engine.CanEditACL(ctx, resourceID, input.UsrID)
	if err != nil {
		if errors.Is(err, models.ErrResourceNotFound) {
			return nil, huma.Error404NotFound("unknown resource")
		}
		return nil, huma.Error500InternalServerError("checking capability", err)
	}
	if !canEdit {
		return nil, huma.Error403Forbidden("not permitted to edit this resource's acl")
	}

	requested := make([]acl.UserCapability, 0, len(input.Body.Entries))
	for _, entry := range input.Body.Entries {
		requested = append(requested, acl.UserCapability{
			UsrID: entry.UsrID,
			Capability: acl.Capability{
				Transcode: entry.Transcode,
				EditACL:   entry.EditACL,
			},
		})
	}

	diff, err := h.engine.SaveUserLevelACL(ctx, resourceID, requested)
	if err != nil {
		return nil, huma.Error500InternalServerError("saving acl", err)
	}
	if len(diff.Inserts) == 0 && len(diff.Updates) == 0 && len(diff.Deletes) == 0 {
		return nil, huma.Error400BadRequest("request makes no change to the acl")
	}

	return &EditACLOutput{Body: editACLBody{
		Inserted: len(diff.Inserts),
		Updated:  len(diff.Updates),
		Deleted:  len(diff.Deletes),
	}}, nil
}
