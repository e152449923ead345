package auth

import (
	"example.com/backstage/services/salesdesk/internal/command"
	"example.com/backstage/services/salesdesk/internal/models"
)

// SystemActor is the reserved actor id used by the ingress worker and
// the seed command. It is not an employee and carries admin rights.
const SystemActor = "system"

// kindRoles maps each command kind to the roles allowed to submit it.
// Ownership rules on top of these (an employee may only fill rep info on
// their own lead, and so on) live in the handlers.
var kindRoles = map[command.Kind][]models.Role{
	command.KindImportLeads:          {models.RoleAdmin},
	command.KindCreateLead:           {models.RoleAdmin, models.RoleEmployee},
	command.KindUpdateLead:           {models.RoleAdmin, models.RoleEmployee},
	command.KindAssignLead:           {models.RoleAdmin},
	command.KindAssignLeadsBulk:      {models.RoleAdmin},
	command.KindRejectLead:           {models.RoleAdmin},
	command.KindFillRepInfo:          {models.RoleAdmin, models.RoleEmployee},
	command.KindCreateOrder:          {models.RoleAdmin, models.RoleEmployee},
	command.KindGenerateInvoice:      {models.RoleAdmin, models.RoleEmployee},
	command.KindMarkPaid:             {models.RoleAdmin, models.RoleEmployee},
	command.KindScheduleDelivery:     {models.RoleAdmin, models.RoleEmployee},
	command.KindMarkFulfilled:        {models.RoleAdmin, models.RoleDelivery},
	command.KindCreateEmployee:       {models.RoleAdmin},
	command.KindDisableEmployee:      {models.RoleAdmin},
	command.KindResetPassword:        {models.RoleAdmin},
	command.KindUpdateSettings:       {models.RoleAdmin},
	command.KindCreateCalendarEvent:  {models.RoleAdmin, models.RoleEmployee},
	command.KindMarkNotificationRead: {models.RoleAdmin, models.RoleEmployee, models.RoleDelivery},
	command.KindDismissNotification:  {models.RoleAdmin, models.RoleEmployee, models.RoleDelivery},
}

// KindAllowed reports whether a role may submit a command kind
func KindAllowed(role models.Role, kind command.Kind) bool {
	for _, r := range kindRoles[kind] {
		if r == role {
			return true
		}
	}
	return false
}
