package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"crm-inbox/internal/models"
)

type leadRow struct {
	ID         string `db:"id"`
	LeadNumber string `db:"lead_number"`
	Name       string `db:"name"`
	Phone      string `db:"phone"`
	Mobile     string `db:"mobile"`
	Closer     string `db:"closer"`
	Scheduler  string `db:"scheduler"`
	Handler    string `db:"handler"`
	Manager    string `db:"manager"`
}

func (r leadRow) client(ref models.ClientRef) models.Client {
	return models.Client{
		Ref:        ref,
		LeadNumber: r.LeadNumber,
		Name:       r.Name,
		Phone:      r.Phone,
		Mobile:     r.Mobile,
		Roles: models.RoleAssignments{
			Closer:    r.Closer,
			Scheduler: r.Scheduler,
			Handler:   r.Handler,
			Manager:   r.Manager,
		},
	}
}

type contactRow struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	Phone     string `db:"phone"`
	Mobile    string `db:"mobile"`
	NewLeadID string `db:"newlead_id"`
	LegacyID  string `db:"legacy_id"`
}

const leadsQuery = `
SELECT CAST(l.id AS TEXT) AS id,
       COALESCE(CAST(l.lead_number AS TEXT), '') AS lead_number,
       COALESCE(l.name, '') AS name,
       COALESCE(l.phone, '') AS phone,
       COALESCE(l.mobile, '') AS mobile,
       COALESCE(l.closer, '') AS closer,
       COALESCE(l.scheduler, '') AS scheduler,
       COALESCE(l.handler, '') AS handler,
       COALESCE(l.manager, '') AS manager
FROM leads l
ORDER BY l.lead_number`

// Legacy leads reference staff by employee id.
const legacyLeadsQuery = `
SELECT CAST(l.id AS TEXT) AS id,
       CAST(l.id AS TEXT) AS lead_number,
       COALESCE(l.name, '') AS name,
       COALESCE(l.phone, '') AS phone,
       COALESCE(l.mobile, '') AS mobile,
       COALESCE(ec.display_name, '') AS closer,
       COALESCE(es.display_name, '') AS scheduler,
       COALESCE(eh.display_name, '') AS handler,
       COALESCE(em.display_name, '') AS manager
FROM leads_lead l
LEFT JOIN tenants_employee ec ON ec.id = l.closer_id
LEFT JOIN tenants_employee es ON es.id = l.meeting_scheduler_id
LEFT JOIN tenants_employee eh ON eh.id = l.case_handler_id
LEFT JOIN tenants_employee em ON em.id = l.meeting_manager_id
ORDER BY l.id`

const contactsQuery = `
SELECT CAST(c.id AS TEXT) AS id,
       COALESCE(c.name, '') AS name,
       COALESCE(c.phone, '') AS phone,
       COALESCE(c.mobile, '') AS mobile,
       COALESCE(CAST(r.newlead_id AS TEXT), '') AS newlead_id,
       COALESCE(CAST(r.lead_id AS TEXT), '') AS legacy_id
FROM leads_contact c
LEFT JOIN lead_leadcontact r ON r.contact_id = c.id
ORDER BY c.id, r.main DESC`

// FetchClients returns new leads, legacy leads and contacts. Contacts inherit the lead
// number and role assignments of their parent lead; a contact linked to several leads is
// attached to its main relationship.
func (s *SQLStore) FetchClients(ctx context.Context) ([]models.Client, error) {
	var leads, legacy []leadRow
	if err := s.db.SelectContext(ctx, &leads, leadsQuery); err != nil {
		return nil, fmt.Errorf("failed to fetch leads: %w", err)
	}
	if err := s.db.SelectContext(ctx, &legacy, legacyLeadsQuery); err != nil {
		return nil, fmt.Errorf("failed to fetch legacy leads: %w", err)
	}
	var contacts []contactRow
	if err := s.db.SelectContext(ctx, &contacts, contactsQuery); err != nil {
		return nil, fmt.Errorf("failed to fetch contacts: %w", err)
	}

	clients := make([]models.Client, 0, len(leads)+len(legacy)+len(contacts))
	parents := make(map[string]models.Client, len(leads)+len(legacy))
	for _, r := range leads {
		c := r.client(models.LeadRef(r.ID))
		parents[c.Ref.Key()] = c
		clients = append(clients, c)
	}
	for _, r := range legacy {
		c := r.client(models.LegacyLeadRef(r.ID))
		parents[c.Ref.Key()] = c
		clients = append(clients, c)
	}

	seen := make(map[string]struct{}, len(contacts))
	orphans := 0
	for _, r := range contacts {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}

		var parent *models.ClientRef
		switch {
		case r.NewLeadID != "":
			ref := models.LeadRef(r.NewLeadID)
			parent = &ref
		case r.LegacyID != "":
			ref := models.LegacyLeadRef(r.LegacyID)
			parent = &ref
		default:
			orphans++
		}

		c := models.Client{
			Ref:    models.ContactRef(r.ID, parent),
			Name:   r.Name,
			Phone:  r.Phone,
			Mobile: r.Mobile,
		}
		if parent != nil {
			if lead, ok := parents[parent.Key()]; ok {
				c.LeadNumber = lead.LeadNumber
				c.Roles = lead.Roles
			}
		}
		clients = append(clients, c)
	}

	log.Debug().
		Int("leads", len(leads)).
		Int("legacy_leads", len(legacy)).
		Int("contacts", len(seen)).
		Int("orphan_contacts", orphans).
		Msg("Fetched clients")

	return clients, nil
}
