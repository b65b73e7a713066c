/*
Package factory converts policy documents into leave policies.

PURPOSE:
  HR defines leave policies (and, for demos, the directory) in a JSON or
  YAML document; the factory validates it and produces leave.Policy,
  leave.Department and leave.Employee values ready to seed a store.

DOCUMENT SCHEMA (YAML shown, JSON uses the same keys):
  policies:
    - leave_type: Annual
      description: Paid annual leave
      default_allocation: 15
      max_consecutive_days: 30
      min_advance_notice_days: 7
      allow_carry_forward: true
  departments:
    - id: eng
      name: Engineering
      head_id: head-1
      approval_chain: [department_head, admin]
  employees:
    - id: emp-1
      name: Sam
      role: staff
      department_id: eng

KEY FEATURES:
  - Unknown keys are rejected (typos do not silently become defaults)
  - Duplicate leave types, departments or employees are rejected
  - Every policy is validated with leave.Policy.Validate

USAGE:
  f := factory.NewPolicyFactory()
  doc, err := f.LoadFile("policies.yaml")
  if err != nil { ... }
  err = doc.Apply(ctx, policyService, store)

SEE ALSO:
  - leave/policies.go: presets and PolicyService.Seed
  - cmd/server: seed-policies command
*/
package factory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/authz"
	"github.com/warp/leave-engine/leave"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// DOCUMENT SCHEMA TYPES
// =============================================================================

// PolicyJSON is the document representation of a policy.
type PolicyJSON struct {
	LeaveType            string  `json:"leave_type" yaml:"leave_type"`
	Description          string  `json:"description,omitempty" yaml:"description,omitempty"`
	DefaultAllocation    float64 `json:"default_allocation" yaml:"default_allocation"`
	MaxConsecutiveDays   int     `json:"max_consecutive_days" yaml:"max_consecutive_days"`
	MinAdvanceNoticeDays int     `json:"min_advance_notice_days" yaml:"min_advance_notice_days"`
	AllowCarryForward    bool    `json:"allow_carry_forward" yaml:"allow_carry_forward"`
}

type DepartmentJSON struct {
	ID            string   `json:"id" yaml:"id"`
	Name          string   `json:"name" yaml:"name"`
	HeadID        string   `json:"head_id,omitempty" yaml:"head_id,omitempty"`
	ApprovalChain []string `json:"approval_chain,omitempty" yaml:"approval_chain,omitempty"`
}

type EmployeeJSON struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	Email        string `json:"email,omitempty" yaml:"email,omitempty"`
	Role         string `json:"role" yaml:"role"`
	DepartmentID string `json:"department_id,omitempty" yaml:"department_id,omitempty"`
}

// DocumentJSON is the top-level document.
type DocumentJSON struct {
	Policies    []PolicyJSON     `json:"policies" yaml:"policies"`
	Departments []DepartmentJSON `json:"departments,omitempty" yaml:"departments,omitempty"`
	Employees   []EmployeeJSON   `json:"employees,omitempty" yaml:"employees,omitempty"`
}

// Format of a document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from a file extension. Anything that is
// not .json is read as YAML (a superset of JSON).
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// =============================================================================
// FACTORY
// =============================================================================

// Document is a parsed and validated seed document.
type Document struct {
	Policies    []leave.Policy
	Departments []leave.Department
	Employees   []leave.Employee
}

type PolicyFactory struct{}

func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// LoadFile reads and parses a document from disk.
func (f *PolicyFactory) LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy document: %w", err)
	}
	return f.Parse(data, FormatFromPath(path))
}

// Parse decodes data in the given format and validates it.
func (f *PolicyFactory) Parse(data []byte, format Format) (*Document, error) {
	var dj DocumentJSON
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&dj); err != nil {
			return nil, fmt.Errorf("failed to parse policy JSON: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&dj); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse policy YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown document format %q", format)
	}
	return f.FromJSON(dj)
}

// FromJSON converts and validates a decoded document.
func (f *PolicyFactory) FromJSON(dj DocumentJSON) (*Document, error) {
	if len(dj.Policies) == 0 {
		return nil, fmt.Errorf("document defines no policies")
	}

	doc := &Document{}
	seen := make(map[string]bool)
	for i, pj := range dj.Policies {
		p, err := f.PolicyFromJSON(pj)
		if err != nil {
			return nil, fmt.Errorf("policies[%d]: %w", i, err)
		}
		if seen[p.LeaveType] {
			return nil, fmt.Errorf("policies[%d]: duplicate leave type %q", i, p.LeaveType)
		}
		seen[p.LeaveType] = true
		doc.Policies = append(doc.Policies, p)
	}

	departments := make(map[string]bool)
	for i, dep := range dj.Departments {
		d := leave.Department{ID: dep.ID, Name: dep.Name, HeadID: dep.HeadID}
		for _, r := range dep.ApprovalChain {
			d.ApprovalChain = append(d.ApprovalChain, authz.Role(r))
		}
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("departments[%d]: %w", i, err)
		}
		if departments[d.ID] {
			return nil, fmt.Errorf("departments[%d]: duplicate id %q", i, d.ID)
		}
		departments[d.ID] = true
		doc.Departments = append(doc.Departments, d)
	}

	employees := make(map[string]bool)
	for i, ej := range dj.Employees {
		e := leave.Employee{ID: ej.ID, Name: ej.Name, Email: ej.Email, Role: authz.Role(ej.Role), DepartmentID: ej.DepartmentID}
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("employees[%d]: %w", i, err)
		}
		if employees[e.ID] {
			return nil, fmt.Errorf("employees[%d]: duplicate id %q", i, e.ID)
		}
		if e.DepartmentID != "" && len(dj.Departments) > 0 && !departments[e.DepartmentID] {
			return nil, fmt.Errorf("employees[%d]: unknown department %q", i, e.DepartmentID)
		}
		employees[e.ID] = true
		doc.Employees = append(doc.Employees, e)
	}
	return doc, nil
}

// PolicyFromJSON converts one policy entry.
func (f *PolicyFactory) PolicyFromJSON(pj PolicyJSON) (leave.Policy, error) {
	p := leave.Policy{
		LeaveType:            strings.TrimSpace(pj.LeaveType),
		Description:          pj.Description,
		DefaultAllocation:    decimal.NewFromFloat(pj.DefaultAllocation),
		MaxConsecutiveDays:   pj.MaxConsecutiveDays,
		MinAdvanceNoticeDays: pj.MinAdvanceNoticeDays,
		AllowCarryForward:    pj.AllowCarryForward,
	}
	if err := p.Validate(); err != nil {
		return leave.Policy{}, err
	}
	return p, nil
}

// ToJSON converts a policy back to its document form.
func (f *PolicyFactory) ToJSON(p leave.Policy) PolicyJSON {
	return PolicyJSON{
		LeaveType:            p.LeaveType,
		Description:          p.Description,
		DefaultAllocation:    p.DefaultAllocation.InexactFloat64(),
		MaxConsecutiveDays:   p.MaxConsecutiveDays,
		MinAdvanceNoticeDays: p.MinAdvanceNoticeDays,
		AllowCarryForward:    p.AllowCarryForward,
	}
}

// =============================================================================
// APPLY
// =============================================================================

// Apply seeds the policies, then the departments and employees.
// dir may be nil when the document has no directory entries.
func (d *Document) Apply(ctx context.Context, policies *leave.PolicyService, dir leave.DirectoryWriter) error {
	if err := policies.Seed(ctx, d.Policies...); err != nil {
		return err
	}
	if len(d.Departments)+len(d.Employees) > 0 && dir == nil {
		return fmt.Errorf("document has directory entries but no directory writer was given")
	}
	for _, dep := range d.Departments {
		if err := dir.SaveDepartment(ctx, dep); err != nil {
			return fmt.Errorf("save department %q: %w", dep.ID, err)
		}
	}
	for _, e := range d.Employees {
		if err := dir.SaveEmployee(ctx, e); err != nil {
			return fmt.Errorf("save employee %q: %w", e.ID, err)
		}
	}
	return nil
}
