package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rh360-attendance/internal/config"
	"github.com/kozaktomas/rh360-attendance/internal/database"
	"github.com/kozaktomas/rh360-attendance/internal/enrollment"
	"github.com/kozaktomas/rh360-attendance/internal/rut"
)

var employeeCmd = &cobra.Command{
	Use:   "employee",
	Short: "Manage employees",
	Long:  `Register, list, correct and remove employees. Employees are referenced by internal ID, RUT or employee code.`,
}

var employeeAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register an employee",
	Long: `Register an active employee. The RUT is validated and stored in canonical form.
When no code is given one is generated from the current time (EMPyyyymmddHHMMSS).

Examples:
  rh360-attendance employee add --name "Ana María Pérez" --rut 12.345.678-5
  rh360-attendance employee add --name "Bruno Soto" --rut 10000013-K --code EMP002 --department Bodega`,
	Args: cobra.NoArgs,
	RunE: runEmployeeAdd,
}

var employeeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List employees",
	Args:  cobra.NoArgs,
	RunE:  runEmployeeList,
}

var employeeDeleteCmd = &cobra.Command{
	Use:   "delete <employee>",
	Short: "Delete an employee with all records and enrolled faces",
	Args:  cobra.ExactArgs(1),
	RunE:  runEmployeeDelete,
}

var employeeDeactivateCmd = &cobra.Command{
	Use:   "deactivate <employee>",
	Short: "Deactivate an employee, keeping the history",
	Args:  cobra.ExactArgs(1),
	RunE:  runEmployeeDeactivate,
}

var employeeSetRUTCmd = &cobra.Command{
	Use:   "set-rut <employee> <rut>",
	Short: "Correct the RUT of an employee",
	Args:  cobra.ExactArgs(2),
	RunE:  runEmployeeSetRUT,
}

func init() {
	rootCmd.AddCommand(employeeCmd)
	employeeCmd.AddCommand(employeeAddCmd, employeeListCmd, employeeDeleteCmd, employeeDeactivateCmd, employeeSetRUTCmd)

	employeeAddCmd.Flags().String("name", "", "Full name (required)")
	employeeAddCmd.Flags().String("rut", "", "RUT, with or without dots (required)")
	employeeAddCmd.Flags().String("code", "", "Employee code (generated when empty)")
	employeeAddCmd.Flags().String("email", "", "Email address")
	employeeAddCmd.Flags().String("department", "", "Department")
	employeeAddCmd.Flags().String("position", "", "Position")
	_ = employeeAddCmd.MarkFlagRequired("name")
	_ = employeeAddCmd.MarkFlagRequired("rut")

	employeeListCmd.Flags().Bool("all", false, "Include inactive employees")
	employeeListCmd.Flags().Bool("json", false, "Output as JSON")

	employeeDeleteCmd.Flags().Bool("yes", false, "Confirm the deletion")
}

// resolveEmployee finds an employee by internal ID, RUT or employee code.
func resolveEmployee(ctx context.Context, employees database.EmployeeReader, ref string) (*database.Employee, error) {
	ref = strings.TrimSpace(ref)
	emp, err := employees.GetEmployee(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}
	if emp == nil && rut.Validate(ref) {
		if emp, err = employees.GetEmployeeByRUT(ctx, rut.Canonicalize(ref)); err != nil {
			return nil, fmt.Errorf("failed to get employee by RUT: %w", err)
		}
	}
	if emp == nil {
		if emp, err = employees.GetEmployeeByCode(ctx, ref); err != nil {
			return nil, fmt.Errorf("failed to get employee by code: %w", err)
		}
	}
	if emp == nil {
		return nil, fmt.Errorf("employee %q: %w", ref, database.ErrNotFound)
	}
	return emp, nil
}

func runEmployeeAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	b, err := openBackend(config.Load())
	if err != nil {
		return err
	}
	defer b.Close()

	emp, err := b.enrollmentService(nil).Register(ctx, enrollment.Registration{
		Name:         mustGetString(cmd, "name"),
		RUT:          mustGetString(cmd, "rut"),
		EmployeeCode: mustGetString(cmd, "code"),
		Email:        mustGetString(cmd, "email"),
		Department:   mustGetString(cmd, "department"),
		Position:     mustGetString(cmd, "position"),
	})
	if err != nil {
		return fmt.Errorf("failed to register employee: %w", err)
	}

	fmt.Printf("Registered %s\n", emp.Name)
	fmt.Printf("  ID:   %s\n", emp.ID)
	fmt.Printf("  RUT:  %s\n", rut.Format(emp.RUT))
	fmt.Printf("  Code: %s\n", emp.EmployeeCode)
	fmt.Printf("Enroll %d face photos with: rh360-attendance enroll %s <photos...>\n", b.cfg.Attendance.MinPhotos, emp.EmployeeCode)
	return nil
}

func runEmployeeList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	b, err := openBackend(config.Load())
	if err != nil {
		return err
	}
	defer b.Close()

	employees, err := b.employees.ListEmployees(ctx, !mustGetBool(cmd, "all"))
	if err != nil {
		return fmt.Errorf("failed to list employees: %w", err)
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(employees)
	}

	if len(employees) == 0 {
		fmt.Println("No employees found")
		return nil
	}
	fmt.Printf("%-18s %-13s %-32s %-16s %-6s %s\n", "CODE", "RUT", "NAME", "DEPARTMENT", "FACE", "ACTIVE")
	withFaces := 0
	for _, e := range employees {
		face := "-"
		if e.HasFaceRegistered {
			face = "yes"
			withFaces++
		}
		active := "yes"
		if !e.Active {
			active = "no"
		}
		fmt.Printf("%-18s %-13s %-32s %-16s %-6s %s\n", e.EmployeeCode, rut.Format(e.RUT), truncate(e.Name, 32), truncate(e.Department, 16), face, active)
	}
	fmt.Printf("\nTotal: %d employees, %d with registered face\n", len(employees), withFaces)
	return nil
}

func runEmployeeDelete(cmd *cobra.Command, args []string) error {
	if !mustGetBool(cmd, "yes") {
		return errors.New("deleting removes all attendance records of the employee, pass --yes to confirm")
	}

	ctx := context.Background()
	b, err := openBackend(config.Load())
	if err != nil {
		return err
	}
	defer b.Close()

	emp, err := resolveEmployee(ctx, b.employees, args[0])
	if err != nil {
		return err
	}
	if err := b.enrollmentService(nil).Delete(ctx, emp.ID); err != nil {
		return fmt.Errorf("failed to delete employee: %w", err)
	}
	saveGalleryIndex()

	fmt.Printf("Deleted %s (%s) with all records and faces\n", emp.Name, rut.Format(emp.RUT))
	return nil
}

func runEmployeeDeactivate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	b, err := openBackend(config.Load())
	if err != nil {
		return err
	}
	defer b.Close()

	emp, err := resolveEmployee(ctx, b.employees, args[0])
	if err != nil {
		return err
	}
	if _, err := b.enrollmentService(nil).Deactivate(ctx, emp.ID); err != nil {
		return fmt.Errorf("failed to deactivate employee: %w", err)
	}

	fmt.Printf("Deactivated %s (%s)\n", emp.Name, rut.Format(emp.RUT))
	return nil
}

func runEmployeeSetRUT(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	b, err := openBackend(config.Load())
	if err != nil {
		return err
	}
	defer b.Close()

	emp, err := resolveEmployee(ctx, b.employees, args[0])
	if err != nil {
		return err
	}
	old := emp.RUT
	updated, err := b.enrollmentService(nil).Update(ctx, emp.ID, enrollment.Changes{RUT: &args[1]})
	if err != nil {
		return fmt.Errorf("failed to update RUT: %w", err)
	}

	fmt.Printf("%s: %s -> %s\n", updated.Name, rut.Format(old), rut.Format(updated.RUT))
	return nil
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
