package auth

// Built-in role names.
const (
	RoleAdmin   = "admin"
	RoleDoctor  = "doctor"
	RoleLabTech = "lab_tech"
	RolePatient = "patient"
)

// Permission strings referenced by guarded routes.
const (
	PermCreateUser           = "create_user"
	PermReadUser             = "read_user"
	PermUpdateUser           = "update_user"
	PermDeleteUser           = "delete_user"
	PermManageRoles          = "manage_roles"
	PermViewAllResults       = "view_all_results"
	PermReadPatientData      = "read_patient_data"
	PermCreateReport         = "create_report"
	PermViewAssignedPatients = "view_assigned_patients"
	PermUploadResults        = "upload_results"
	PermViewLabTests         = "view_lab_tests"
	PermReadOwnData          = "read_own_data"
)

// BuiltinRoles are ensured at startup so registration always finds the
// default role and guarded routes have stable permission sets.
var BuiltinRoles = []Role{
	{
		Name: RoleAdmin,
		Permissions: []string{
			PermCreateUser, PermReadUser, PermUpdateUser, PermDeleteUser,
			PermManageRoles, PermViewAllResults, PermCreateReport,
			PermUploadResults,
		},
	},
	{
		Name: RoleDoctor,
		Permissions: []string{
			PermReadPatientData, PermCreateReport, PermViewAssignedPatients,
		},
	},
	{
		Name:        RoleLabTech,
		Permissions: []string{PermUploadResults, PermViewLabTests},
	},
	{
		Name:        RolePatient,
		Permissions: []string{PermReadOwnData},
	},
}

// DefaultRole is assigned to freshly registered accounts.
const DefaultRole = RolePatient
