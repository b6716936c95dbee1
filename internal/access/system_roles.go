package access

import (
	"nexum/pkg/money"
)

// System role names. Seeded at first startup with fixed permission sets;
// immutable and undeletable thereafter.
const (
	RoleAdmin             = "ADMIN"
	RoleBranchManager     = "BRANCH_MANAGER"
	RoleLoanOfficer       = "LOAN_OFFICER"
	RoleTeller            = "TELLER"
	RoleAuditor           = "AUDITOR"
	RoleComplianceOfficer = "COMPLIANCE_OFFICER"
	RoleCollector         = "COLLECTOR"
	RoleReadOnly          = "READ_ONLY"
)

func limit(amount string) *money.Money {
	m := money.MustFromString(amount, money.USD)
	return &m
}

// systemRoleDefs is the seed table. Amount limits are in the base
// currency; nil means unlimited.
var systemRoleDefs = []Role{
	{
		ID:          RoleAdmin,
		Name:        "Administrator",
		Description: "Full access to every operation",
		IsSystem:    true,
		Permissions: []Permission{
			PermRoleManage, PermUserManage,
			PermAccountOpen, PermAccountClose, PermAccountFreeze,
			PermCustomerManage, PermCustomerView,
			PermTransactionCreate, PermTransactionProcess, PermTransactionReverse, PermTransactionApprove,
			PermLoanOriginate, PermLoanManage,
			PermComplianceManage, PermComplianceView,
			PermCollectionManage,
			PermAuditView, PermReportView,
		},
	},
	{
		ID:          RoleBranchManager,
		Name:        "Branch Manager",
		Description: "Branch operations, approvals, and reversals",
		IsSystem:    true,
		Permissions: []Permission{
			PermAccountOpen, PermAccountClose, PermAccountFreeze,
			PermCustomerManage, PermCustomerView,
			PermTransactionCreate, PermTransactionProcess, PermTransactionReverse, PermTransactionApprove,
			PermAuditView, PermReportView,
		},
		MaxTransactionAmount: limit("250000.00"),
		MaxApprovalAmount:    limit("1000000.00"),
	},
	{
		ID:          RoleLoanOfficer,
		Name:        "Loan Officer",
		Description: "Loan origination and servicing",
		IsSystem:    true,
		Permissions: []Permission{
			PermCustomerView,
			PermTransactionCreate,
			PermLoanOriginate, PermLoanManage,
			PermReportView,
		},
		MaxTransactionAmount: limit("500000.00"),
	},
	{
		ID:          RoleTeller,
		Name:        "Teller",
		Description: "Counter transactions",
		IsSystem:    true,
		Permissions: []Permission{
			PermCustomerView,
			PermTransactionCreate, PermTransactionProcess,
		},
		MaxTransactionAmount: limit("10000.00"),
	},
	{
		ID:          RoleAuditor,
		Name:        "Auditor",
		Description: "Read-only audit access",
		IsSystem:    true,
		Permissions: []Permission{
			PermAuditView, PermReportView,
		},
	},
	{
		ID:          RoleComplianceOfficer,
		Name:        "Compliance Officer",
		Description: "Compliance screening and alert management",
		IsSystem:    true,
		Permissions: []Permission{
			PermCustomerView,
			PermComplianceManage, PermComplianceView,
			PermAuditView,
		},
	},
	{
		ID:          RoleCollector,
		Name:        "Collector",
		Description: "Collection case handling",
		IsSystem:    true,
		Permissions: []Permission{
			PermCustomerView,
			PermCollectionManage,
		},
	},
	{
		ID:          RoleReadOnly,
		Name:        "Read Only",
		Description: "View-only access",
		IsSystem:    true,
		Permissions: []Permission{
			PermCustomerView, PermReportView,
		},
	},
}
