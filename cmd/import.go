package main

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/ShupingR/tweener-portco-email-alert/internal/model"
	"github.com/ShupingR/tweener-portco-email-alert/internal/store"
)

var importXLSXPath string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Seed companies and contacts from an XLSX workbook",
	Long:  "Loads the portfolio roster from a workbook with a Companies sheet (name, legal name, website, description, portfolio) and an optional Contacts sheet (company, first name, last name, email, job title, primary).",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		companies, contacts, err := importWorkbook(ctx, st, importXLSXPath)
		if err != nil {
			return err
		}

		zap.L().Info("import complete",
			zap.Int("companies", companies),
			zap.Int("contacts", contacts),
			zap.String("xlsx", importXLSXPath),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importXLSXPath, "xlsx", "", "path to XLSX workbook (required)")
	_ = importCmd.MarkFlagRequired("xlsx")
	rootCmd.AddCommand(importCmd)
}

// importWorkbook loads the roster workbook into the store. Rows for companies
// already present (by normalized name) are skipped, so re-imports are safe.
func importWorkbook(ctx context.Context, st store.Store, path string) (int, int, error) {
	wb, err := xlsx.OpenFile(path)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "open workbook %s", path)
	}

	companiesSheet, ok := wb.Sheet["Companies"]
	if !ok {
		return 0, 0, eris.New("workbook has no Companies sheet")
	}

	newCompanies := 0
	for i, row := range companiesSheet.Rows {
		if i == 0 {
			continue // header
		}
		name := cellValue(row, 0)
		if name == "" {
			continue
		}

		existing, err := st.GetCompanyByName(ctx, name)
		if err != nil {
			return newCompanies, 0, eris.Wrapf(err, "lookup company %q", name)
		}
		if existing != nil {
			continue
		}

		_, err = st.CreateCompany(ctx, model.Company{
			Name:        name,
			LegalName:   cellValue(row, 1),
			Website:     cellValue(row, 2),
			Description: cellValue(row, 3),
			IsPortfolio: parseBoolCell(cellValue(row, 4)),
		})
		if err != nil {
			return newCompanies, 0, eris.Wrapf(err, "create company %q", name)
		}
		newCompanies++
	}

	newContacts := 0
	if contactsSheet, ok := wb.Sheet["Contacts"]; ok {
		for i, row := range contactsSheet.Rows {
			if i == 0 {
				continue
			}
			companyName := cellValue(row, 0)
			email := cellValue(row, 3)
			if companyName == "" || email == "" {
				continue
			}

			co, err := st.GetCompanyByName(ctx, companyName)
			if err != nil {
				return newCompanies, newContacts, eris.Wrapf(err, "lookup company %q", companyName)
			}
			if co == nil {
				zap.L().Warn("contact references unknown company, skipping",
					zap.String("company", companyName),
					zap.String("email", email),
				)
				continue
			}

			_, err = st.CreateContact(ctx, model.Contact{
				CompanyID: co.ID,
				FirstName: cellValue(row, 1),
				LastName:  cellValue(row, 2),
				Email:     email,
				JobTitle:  cellValue(row, 4),
				IsPrimary: parseBoolCell(cellValue(row, 5)),
			})
			if err != nil {
				return newCompanies, newContacts, eris.Wrapf(err, "create contact %q", email)
			}
			newContacts++
		}
	}

	return newCompanies, newContacts, nil
}

func cellValue(row *xlsx.Row, i int) string {
	if i >= len(row.Cells) {
		return ""
	}
	return strings.TrimSpace(row.Cells[i].String())
}

func parseBoolCell(s string) bool {
	switch strings.ToLower(s) {
	case "yes", "y", "true", "1":
		return true
	default:
		return false
	}
}
