package sqlite

import "strings"

// Core business tables. These four form the guaranteed schema recreated by
// the nuclear rebuild, so they reference each other only through UUID text
// keys and never through lookup tables.
const (
	createCustomers = `CREATE TABLE IF NOT EXISTS customers (
    customer_id TEXT PRIMARY KEY NOT NULL,
    name TEXT NOT NULL,
    tax_id TEXT UNIQUE,
    email TEXT,
    currency_code TEXT NOT NULL DEFAULT 'EUR',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

	createProducts = `CREATE TABLE IF NOT EXISTS products (
    product_id TEXT PRIMARY KEY NOT NULL,
    sku TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    unit_price INTEGER NOT NULL DEFAULT 0,
    tax_rate_code TEXT,
    unit_code TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

	createInvoices = `CREATE TABLE IF NOT EXISTS invoices (
    invoice_id TEXT PRIMARY KEY NOT NULL,
    number TEXT NOT NULL UNIQUE,
    customer_id TEXT NOT NULL,
    issued_at TEXT NOT NULL,
    due_at TEXT,
    status TEXT NOT NULL DEFAULT 'draft',
    currency_code TEXT NOT NULL DEFAULT 'EUR',
    total INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    FOREIGN KEY (customer_id) REFERENCES customers(customer_id)
);`

	createInvoiceLines = `CREATE TABLE IF NOT EXISTS invoice_lines (
    line_id TEXT PRIMARY KEY NOT NULL,
    invoice_id TEXT NOT NULL,
    product_id TEXT,
    description TEXT NOT NULL,
    quantity REAL NOT NULL DEFAULT 1,
    unit_price INTEGER NOT NULL DEFAULT 0,
    tax_rate REAL NOT NULL DEFAULT 0,
    position INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (invoice_id) REFERENCES invoices(invoice_id) ON DELETE CASCADE,
    FOREIGN KEY (product_id) REFERENCES products(product_id)
);`
)

// Lookup tables with no foreign keys.
const (
	createAppSettings = `CREATE TABLE IF NOT EXISTS app_settings (
    key TEXT PRIMARY KEY NOT NULL,
    value TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

	createCurrencies = `CREATE TABLE IF NOT EXISTS currencies (
    code TEXT PRIMARY KEY NOT NULL,
    name TEXT NOT NULL,
    symbol TEXT NOT NULL,
    decimals INTEGER NOT NULL DEFAULT 2
);`

	createTaxRates = `CREATE TABLE IF NOT EXISTS tax_rates (
    tax_rate_id TEXT PRIMARY KEY NOT NULL,
    code TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    rate REAL NOT NULL
);`

	createUnits = `CREATE TABLE IF NOT EXISTS units (
    code TEXT PRIMARY KEY NOT NULL,
    name TEXT NOT NULL
);`

	createDocumentSeries = `CREATE TABLE IF NOT EXISTS document_series (
    series_id TEXT PRIMARY KEY NOT NULL,
    prefix TEXT NOT NULL UNIQUE,
    next_number INTEGER NOT NULL DEFAULT 1
);`
)

// Remaining catalog, transactional, accounting and auxiliary tables.
const (
	createSuppliers = `CREATE TABLE IF NOT EXISTS suppliers (
    supplier_id TEXT PRIMARY KEY NOT NULL,
    name TEXT NOT NULL,
    tax_id TEXT UNIQUE,
    currency_code TEXT NOT NULL DEFAULT 'EUR',
    created_at TEXT NOT NULL,
    FOREIGN KEY (currency_code) REFERENCES currencies(code)
);`

	createPurchaseBills = `CREATE TABLE IF NOT EXISTS purchase_bills (
    bill_id TEXT PRIMARY KEY NOT NULL,
    supplier_id TEXT NOT NULL,
    reference TEXT NOT NULL,
    issued_at TEXT NOT NULL,
    currency_code TEXT NOT NULL DEFAULT 'EUR',
    total INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (supplier_id) REFERENCES suppliers(supplier_id),
    FOREIGN KEY (currency_code) REFERENCES currencies(code)
);`

	createPayments = `CREATE TABLE IF NOT EXISTS payments (
    payment_id TEXT PRIMARY KEY NOT NULL,
    invoice_id TEXT NOT NULL,
    amount INTEGER NOT NULL,
    method TEXT NOT NULL,
    paid_at TEXT NOT NULL,
    FOREIGN KEY (invoice_id) REFERENCES invoices(invoice_id)
);`

	createLedgerEntries = `CREATE TABLE IF NOT EXISTS ledger_entries (
    entry_id TEXT PRIMARY KEY NOT NULL,
    account TEXT NOT NULL,
    debit INTEGER NOT NULL DEFAULT 0,
    credit INTEGER NOT NULL DEFAULT 0,
    invoice_id TEXT,
    bill_id TEXT,
    booked_at TEXT NOT NULL,
    FOREIGN KEY (invoice_id) REFERENCES invoices(invoice_id),
    FOREIGN KEY (bill_id) REFERENCES purchase_bills(bill_id)
);`

	createAuditLog = `CREATE TABLE IF NOT EXISTS audit_log (
    audit_id TEXT PRIMARY KEY NOT NULL,
    entity TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    action TEXT NOT NULL,
    detail TEXT,
    created_at TEXT NOT NULL
);`

	createAttachments = `CREATE TABLE IF NOT EXISTS attachments (
    attachment_id TEXT PRIMARY KEY NOT NULL,
    invoice_id TEXT NOT NULL,
    file_name TEXT NOT NULL,
    content BLOB,
    created_at TEXT NOT NULL,
    FOREIGN KEY (invoice_id) REFERENCES invoices(invoice_id) ON DELETE CASCADE
);`

	createImportBatches = `CREATE TABLE IF NOT EXISTS import_batches (
    batch_id TEXT PRIMARY KEY NOT NULL,
    source TEXT NOT NULL,
    row_count INTEGER NOT NULL DEFAULT 0,
    imported_at TEXT NOT NULL
);`
)

// Index DDL for common queries.
const (
	idxInvoicesCustomer     = `CREATE INDEX IF NOT EXISTS idx_invoices_customer ON invoices(customer_id);`
	idxInvoicesIssued       = `CREATE INDEX IF NOT EXISTS idx_invoices_issued ON invoices(issued_at);`
	idxInvoiceLinesInvoice  = `CREATE INDEX IF NOT EXISTS idx_invoice_lines_invoice ON invoice_lines(invoice_id);`
	idxInvoiceLinesProduct  = `CREATE INDEX IF NOT EXISTS idx_invoice_lines_product ON invoice_lines(product_id);`
	idxPaymentsInvoice      = `CREATE INDEX IF NOT EXISTS idx_payments_invoice ON payments(invoice_id);`
	idxLedgerEntriesAccount = `CREATE INDEX IF NOT EXISTS idx_ledger_entries_account ON ledger_entries(account);`
	idxAuditLogEntity       = `CREATE INDEX IF NOT EXISTS idx_audit_log_entity ON audit_log(entity, entity_id);`
)

// Statement is one named create statement.
type Statement struct {
	Name string
	SQL  string
}

// TableGroup is a set of create statements that only reference objects of
// earlier groups.
type TableGroup struct {
	Name       string
	Statements []Statement
}

// guaranteedSchema lists the minimal rebuild schema in dependency order.
var guaranteedSchema = []Statement{
	{"customers", createCustomers},
	{"products", createProducts},
	{"invoices", createInvoices},
	{"invoice_lines", createInvoiceLines},
	{"idx_invoices_customer", idxInvoicesCustomer},
	{"idx_invoice_lines_invoice", idxInvoiceLinesInvoice},
	{"idx_invoice_lines_product", idxInvoiceLinesProduct},
}

// bootstrapGroups lists the full schema in five dependency-safe groups.
var bootstrapGroups = []TableGroup{
	{
		Name: "lookup",
		Statements: []Statement{
			{"app_settings", createAppSettings},
			{"currencies", createCurrencies},
			{"tax_rates", createTaxRates},
			{"units", createUnits},
			{"document_series", createDocumentSeries},
		},
	},
	{
		Name: "catalog",
		Statements: []Statement{
			{"customers", createCustomers},
			{"products", createProducts},
			{"suppliers", createSuppliers},
		},
	},
	{
		Name: "transactional",
		Statements: []Statement{
			{"invoices", createInvoices},
			{"invoice_lines", createInvoiceLines},
			{"purchase_bills", createPurchaseBills},
		},
	},
	{
		Name: "accounting",
		Statements: []Statement{
			{"payments", createPayments},
			{"ledger_entries", createLedgerEntries},
			{"audit_log", createAuditLog},
		},
	},
	{
		Name: "auxiliary",
		Statements: []Statement{
			{"attachments", createAttachments},
			{"import_batches", createImportBatches},
			{"idx_invoices_customer", idxInvoicesCustomer},
			{"idx_invoices_issued", idxInvoicesIssued},
			{"idx_invoice_lines_invoice", idxInvoiceLinesInvoice},
			{"idx_invoice_lines_product", idxInvoiceLinesProduct},
			{"idx_payments_invoice", idxPaymentsInvoice},
			{"idx_ledger_entries_account", idxLedgerEntriesAccount},
			{"idx_audit_log_entity", idxAuditLogEntity},
		},
	},
}

// GuaranteedSchema returns the rebuild schema statements.
func GuaranteedSchema() []Statement {
	out := make([]Statement, len(guaranteedSchema))
	copy(out, guaranteedSchema)
	return out
}

// GuaranteedTables returns the table names of the rebuild schema.
func GuaranteedTables() []string {
	return []string{"customers", "products", "invoices", "invoice_lines"}
}

// BootstrapTables returns the table names of the full bootstrap schema in
// creation order.
func BootstrapTables() []string {
	var names []string
	for _, g := range bootstrapGroups {
		for _, st := range g.Statements {
			if strings.HasPrefix(st.Name, "idx_") {
				continue
			}
			names = append(names, st.Name)
		}
	}
	return names
}

// BootstrapGroups returns the five ordered bootstrap groups.
func BootstrapGroups() []TableGroup {
	out := make([]TableGroup, len(bootstrapGroups))
	for i, g := range bootstrapGroups {
		stmts := make([]Statement, len(g.Statements))
		copy(stmts, g.Statements)
		out[i] = TableGroup{Name: g.Name, Statements: stmts}
	}
	return out
}
