package plan

// Default returns the built-in plan catalogue used when no plans file is configured.
func Default() *Resolver {
	r, err := NewResolver(
		Plan{
			ID:               "free",
			Name:             "Free",
			Tier:             "free",
			Free:             true,
			Applications:     []string{"crm"},
			Modules:          map[string]ModuleGrant{"crm": Only("contacts", "deals")},
			Credits:          1000,
			MaxUsers:         3,
			MaxOrganizations: 1,
		},
		Plan{
			ID:                    "starter",
			Name:                  "Starter",
			Tier:                  "standard",
			Applications:          []string{"crm", "hr"},
			Modules:               map[string]ModuleGrant{"crm": AllModules(), "hr": Only("employees", "leave")},
			Credits:               5000,
			TrialDurationDays:     14,
			FastTrialDurationDays: 1,
			MaxUsers:              10,
			MaxOrganizations:      3,
		},
		Plan{
			ID:                    "professional",
			Name:                  "Professional",
			Tier:                  "premium",
			Applications:          []string{"crm", "hr", "finance"},
			Modules:               map[string]ModuleGrant{"crm": AllModules(), "hr": AllModules(), "finance": Only("invoicing", "expenses")},
			Credits:               20000,
			TrialDurationDays:     14,
			FastTrialDurationDays: 1,
			MaxUsers:              50,
			MaxOrganizations:      10,
		},
		Plan{
			ID:                    "enterprise",
			Name:                  "Enterprise",
			Tier:                  "enterprise",
			Applications:          []string{"crm", "hr", "finance", "projects"},
			Modules:               map[string]ModuleGrant{"crm": AllModules(), "hr": AllModules(), "finance": AllModules(), "projects": AllModules()},
			Credits:               100000,
			TrialDurationDays:     30,
			FastTrialDurationDays: 2,
			MaxUsers:              1000,
			MaxOrganizations:      100,
		},
	)
	if err != nil {
		// the built-in catalogue is covered by tests
		panic(err)
	}
	return r
}
