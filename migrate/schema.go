package migrate

// Steps is the full grantdesk schema in the order it must be applied. Tables
// are created with the columns they first shipped with; columns added since
// are separate AddColumn steps so that databases created by older releases
// pick them up.
var Steps = []Step{
	{Kind: CreateTable, Table: "organizations", Def: `
		"id" TEXT PRIMARY KEY,
		"name" TEXT NOT NULL,
		"ein" TEXT,
		"mission" TEXT,
		"website" TEXT,
		"address" TEXT,
		"created_date" TEXT NOT NULL,
		"updated_date" TEXT NOT NULL`},
	{Kind: CreateTable, Table: "clients", Def: `
		"id" TEXT PRIMARY KEY,
		"name" TEXT NOT NULL,
		"email" TEXT NOT NULL UNIQUE,
		"phone" TEXT,
		"organization_id" TEXT REFERENCES "organizations" ("id") ON DELETE SET NULL,
		"status" TEXT NOT NULL DEFAULT 'active',
		"notes" TEXT,
		"created_date" TEXT NOT NULL,
		"updated_date" TEXT NOT NULL`},
	{Kind: CreateTable, Table: "services", Def: `
		"id" TEXT PRIMARY KEY,
		"name" TEXT NOT NULL,
		"tier" TEXT,
		"description" TEXT,
		"price_cents" INTEGER NOT NULL DEFAULT 0,
		"billing_period" TEXT,
		"active" BOOLEAN NOT NULL DEFAULT 1,
		"created_date" TEXT NOT NULL,
		"updated_date" TEXT NOT NULL`},
	{Kind: CreateTable, Table: "payments", Def: `
		"id" TEXT PRIMARY KEY,
		"client_id" TEXT NOT NULL REFERENCES "clients" ("id") ON DELETE CASCADE,
		"service_id" TEXT REFERENCES "services" ("id") ON DELETE SET NULL,
		"amount_cents" INTEGER NOT NULL,
		"currency" TEXT NOT NULL DEFAULT 'USD',
		"status" TEXT NOT NULL DEFAULT 'pending',
		"method" TEXT,
		"paid_at" TEXT,
		"created_date" TEXT NOT NULL,
		"updated_date" TEXT NOT NULL`},
	{Kind: CreateTable, Table: "client_preferences", Def: `
		"id" TEXT PRIMARY KEY,
		"client_id" TEXT NOT NULL UNIQUE REFERENCES "clients" ("id") ON DELETE CASCADE,
		"primary_color" TEXT,
		"secondary_color" TEXT,
		"font_family" TEXT,
		"font_size" TEXT,
		"dark_mode" BOOLEAN NOT NULL DEFAULT 0,
		"animations" BOOLEAN NOT NULL DEFAULT 1,
		"created_date" TEXT NOT NULL,
		"updated_date" TEXT NOT NULL`},
	{Kind: CreateTable, Table: "analytics_sessions", Def: `
		"id" TEXT PRIMARY KEY,
		"client_id" TEXT,
		"started_at" TEXT NOT NULL,
		"ended_at" TEXT,
		"duration_seconds" INTEGER,
		"page_count" INTEGER NOT NULL DEFAULT 0,
		"user_agent" TEXT,
		"referrer" TEXT,
		"created_date" TEXT NOT NULL,
		"updated_date" TEXT NOT NULL`},
	{Kind: CreateTable, Table: "page_views", Def: `
		"id" TEXT PRIMARY KEY,
		"session_id" TEXT REFERENCES "analytics_sessions" ("id") ON DELETE CASCADE,
		"client_id" TEXT,
		"path" TEXT NOT NULL,
		"title" TEXT,
		"referrer" TEXT,
		"viewed_at" TEXT NOT NULL,
		"created_date" TEXT NOT NULL,
		"updated_date" TEXT NOT NULL`},
	{Kind: CreateTable, Table: "auth_users", Def: `
		"id" TEXT PRIMARY KEY,
		"email" TEXT NOT NULL UNIQUE,
		"password" TEXT NOT NULL,
		"role" INTEGER NOT NULL DEFAULT 0,
		"last_login" TEXT,
		"last_logout" TEXT,
		"created_date" TEXT NOT NULL,
		"updated_date" TEXT NOT NULL`},

	{Kind: AddColumn, Table: "clients", Column: "access_code", Def: "TEXT"},
	{Kind: AddColumn, Table: "clients", Column: "last_login", Def: "TEXT"},
	{Kind: AddColumn, Table: "organizations", Column: "annual_budget_cents", Def: "INTEGER"},
	{Kind: AddColumn, Table: "organizations", Column: "focus_areas", Def: "JSON"},
	{Kind: AddColumn, Table: "payments", Column: "invoice_number", Def: "TEXT"},
	{Kind: AddColumn, Table: "payments", Column: "notes", Def: "TEXT"},
	{Kind: AddColumn, Table: "client_preferences", Column: "accent_color", Def: "TEXT"},
	{Kind: AddColumn, Table: "client_preferences", Column: "onboarding_completed", Def: "BOOLEAN NOT NULL DEFAULT 0"},
	{Kind: AddColumn, Table: "client_preferences", Column: "dashboard_layout", Def: "JSON"},
	{Kind: AddColumn, Table: "analytics_sessions", Column: "ip_address", Def: "TEXT"},
	{Kind: AddColumn, Table: "page_views", Column: "duration_ms", Def: "INTEGER"},
	{Kind: AddColumn, Table: "auth_users", Column: "provider", Def: "TEXT NOT NULL DEFAULT 'password'"},

	{Kind: CreateIndex, Table: "clients", Index: "idx_clients_organization", Def: `"organization_id"`},
	{Kind: CreateIndex, Table: "payments", Index: "idx_payments_client", Def: `"client_id"`},
	{Kind: CreateIndex, Table: "analytics_sessions", Index: "idx_analytics_sessions_client", Def: `"client_id"`},
	{Kind: CreateIndex, Table: "page_views", Index: "idx_page_views_session", Def: `"session_id"`},
}
