package rbac

// Default policy for the grades service.
var RolePermissions = map[string][]string{
	"student": {
		"grades:view-own",
	},
	"teacher": {
		"grades:view-own",
		"grades:view-all",
		"grades:record",
		"grades:sync",
		"opportunity:manage",
		"gradebook:export",
	},
	"admin": {
		"*", // everything
	},
}
