package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/spanearme/voicebridge/internal/crm"
)

// LeadToolName is the function name the remote model calls once it has
// collected the caller's contact details.
const LeadToolName = "createCrmLead"

const leadToolDescription = "Creates a new lead in the CRM system with the caller's contact information."

// leadParameterSchema declares the required argument shape; the dispatcher
// rejects invocations with missing or mistyped fields before the handler
// runs.
var leadParameterSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"fullName": map[string]any{
			"type":        "string",
			"description": "The full name of the caller.",
		},
		"phoneNumber": map[string]any{
			"type":        "string",
			"description": "The phone number of the caller, including area code.",
		},
		"email": map[string]any{
			"type":        "string",
			"description": "The email address of the caller.",
		},
	},
	"required": []any{"fullName", "phoneNumber", "email"},
}

// NewLeadDefinition builds the createCrmLead tool: it creates the record via
// the external service and, on success, appends a LeadRecord to the call's
// lead log.
func NewLeadDefinition(svc crm.Service, leads *crm.LeadLog, logger zerolog.Logger) Definition {
	logger = logger.With().Str("tool", LeadToolName).Logger()

	return Definition{
		Name:            LeadToolName,
		Description:     leadToolDescription,
		ParameterSchema: leadParameterSchema,
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			// Types are guaranteed by schema validation.
			fullName, _ := args["fullName"].(string)
			phoneNumber, _ := args["phoneNumber"].(string)
			email, _ := args["email"].(string)

			res, err := svc.CreateRecord(ctx, fullName, phoneNumber, email)
			if err != nil {
				return nil, fmt.Errorf("create lead: %w", err)
			}

			leads.Append(crm.LeadRecord{
				ID:          res.RecordID,
				FullName:    fullName,
				PhoneNumber: phoneNumber,
				Email:       email,
				Timestamp:   time.Now(),
			})

			logger.Info().Str("record_id", res.RecordID).Msg("lead captured")
			return map[string]any{
				"result":   "Lead created successfully.",
				"recordId": res.RecordID,
			}, nil
		},
	}
}
