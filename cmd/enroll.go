package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/rh360-attendance/internal/config"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <employee> <photos...>",
	Short: "Enroll reference face photos for an employee",
	Long: `Detect the face in each photo and store its embedding as the employee's
reference gallery, replacing previous faces. Exactly the profile's number of
photos (FACE_MIN_PHOTOS) must be given.

Examples:
  rh360-attendance enroll EMP001 front.jpg left.jpg right.jpg up.jpg down.jpg`,
	Args: cobra.MinimumNArgs(2),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)
}

func runEnroll(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()

	photos := make([][]byte, 0, len(args)-1)
	for _, path := range args[1:] {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		photos = append(photos, data)
	}

	b, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	client := b.embeddingClient()
	if client == nil {
		return errors.New("EMBEDDING_URL environment variable is required")
	}
	b.enableGalleryIndex(ctx)

	emp, err := resolveEmployee(ctx, b.employees, args[0])
	if err != nil {
		return err
	}

	service := b.enrollmentService(client)
	if len(photos) != service.MinPhotos() {
		return fmt.Errorf("exactly %d photos are required, got %d", service.MinPhotos(), len(photos))
	}

	bar := progressbar.NewOptions(len(photos),
		progressbar.OptionSetDescription("Detecting faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)
	service.OnProgress(func(done, total int) { bar.Set(done) })

	res, err := service.EnrollFaces(ctx, emp.ID, photos)
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to enroll faces: %w", err)
	}
	saveGalleryIndex()

	fmt.Printf("Enrolled %d faces for %s (average detection score %.3f)\n", res.Faces, res.Employee.Name, res.AvgDetScore)
	return nil
}
