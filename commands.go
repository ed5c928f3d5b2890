package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"estate_admin/models"
	"estate_admin/services"
)

// listFlag collects a repeated string flag
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", os.Getenv("ESTATE_ADMIN_PASSWORD"), "account password (prompted when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("login: -email is required")
	}
	if *password == "" {
		fmt.Print("Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("read password: %w", err)
		}
		*password = strings.TrimSpace(line)
	}

	user, err := a.client.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	a.logFn(models.LogInfo, "session", "logged in as "+user.Email)
	fmt.Printf("Logged in as %s <%s>\n", user.Name, user.Email)
	return nil
}

func (a *app) logout(ctx context.Context) error {
	if err := a.client.Logout(ctx); err != nil {
		return err
	}
	a.logFn(models.LogInfo, "session", "logged out")
	fmt.Println("Logged out")
	return nil
}

func (a *app) list(ctx context.Context, args []string) error {
	var patch models.FilterPatch
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	preset := fs.String("preset", "", "named filter preset")
	page := fs.Int("page", 0, "page number")
	fs.Func("city", "city (empty clears)", func(v string) error {
		patch.City = &v
		return nil
	})
	fs.Func("status", "available, sold, rented or pending", func(v string) error {
		s := models.Status(v)
		patch.Status = &s
		return nil
	})
	fs.Func("type", "apartment, house, villa, office or land", func(v string) error {
		t := models.PropertyType(v)
		patch.PropertyType = &t
		return nil
	})
	fs.Func("min", "minimum price", priceFlag(&patch.MinPrice))
	fs.Func("max", "maximum price", priceFlag(&patch.MaxPrice))
	fs.Func("sort", "price, area, created_at or updated_at", func(v string) error {
		k := models.SortKey(v)
		patch.Sort = &k
		return nil
	})
	fs.Func("order", "asc or desc", func(v string) error {
		o := models.SortOrder(v)
		patch.Order = &o
		return nil
	})
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *preset != "" {
		if err := a.catalog.ApplyPreset(*preset); err != nil {
			return err
		}
	}
	if err := a.catalog.SetFilter(patch); err != nil {
		return err
	}
	if *page > 0 {
		a.catalog.SetPage(*page)
	}
	if st := a.catalog.State(); st.Page == nil && !st.Loading {
		a.catalog.Refresh()
	}
	a.catalog.Wait()

	st := a.catalog.State()
	if st.Page == nil {
		if st.Err != nil {
			return st.Err
		}
		return errors.New("no results")
	}
	if st.Err != nil {
		fmt.Fprintf(os.Stderr, "warning: showing cached page, refresh failed: %s\n", describeError(st.Err))
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tTYPE\tSTATUS\tPRICE\tAREA\tCITY")
	for _, p := range st.Page.Data {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.Title, p.PropertyType, p.Status, models.FormatDecimal(p.Price), models.FormatDecimal(p.Area), p.City)
	}
	w.Flush()
	fmt.Printf("page %d of %d, %d total\n", st.Filter.Page, st.Page.LastPage(), st.Page.Meta.Total)
	return nil
}

func priceFlag(dst **float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid price %q", v)
		}
		*dst = &f
		return nil
	}
}

func (a *app) show(ctx context.Context, args []string) error {
	id, err := parseID(args, 0, "property id")
	if err != nil {
		return err
	}
	p, err := a.catalog.Property(ctx, id)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ID\t%d\n", p.ID)
	fmt.Fprintf(w, "Title\t%s\n", p.Title)
	fmt.Fprintf(w, "Type\t%s\n", p.PropertyType)
	fmt.Fprintf(w, "Status\t%s\n", p.Status)
	fmt.Fprintf(w, "Price\t%s\n", models.FormatDecimal(p.Price))
	fmt.Fprintf(w, "Area\t%s m2\n", models.FormatDecimal(p.Area))
	fmt.Fprintf(w, "Address\t%s, %s, %s\n", p.Address, p.District, p.City)
	if p.Bedrooms != nil {
		fmt.Fprintf(w, "Bedrooms\t%d\n", *p.Bedrooms)
	}
	if p.Bathrooms != nil {
		fmt.Fprintf(w, "Bathrooms\t%d\n", *p.Bathrooms)
	}
	if len(p.Features) > 0 {
		fmt.Fprintf(w, "Features\t%s\n", strings.Join(p.Features, ", "))
	}
	fmt.Fprintf(w, "Contact\t%s %s %s\n", p.ContactName, p.ContactPhone, p.ContactEmail)
	if p.IsDeleted() {
		fmt.Fprintf(w, "Deleted\t%s\n", p.DeletedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func (a *app) images(ctx context.Context, args []string) error {
	id, err := parseID(args, 0, "property id")
	if err != nil {
		return err
	}
	gallery := services.NewGallery(a.client, id, a.logger)
	if err := gallery.Load(ctx); err != nil {
		return err
	}
	printGallery(gallery)
	return nil
}

func printGallery(g *services.Gallery) {
	if g.Len() == 0 {
		fmt.Println("no images")
		return
	}
	primary := g.PrimaryIndex()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tID\tNAME\t")
	for i, e := range g.Rendered() {
		mark := ""
		if i == primary {
			mark = "primary"
		}
		switch e := e.(type) {
		case services.PersistedEntry:
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", i, e.Image.ID, e.DisplayName(), mark)
		case services.PendingEntry:
			fmt.Fprintf(w, "%d\t-\t%s\tpending %s\n", i, e.DisplayName(), mark)
		}
	}
	w.Flush()
}

func (a *app) create(ctx context.Context, args []string) error {
	var imgs listFlag
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	file := fs.String("f", "", "property YAML file")
	fs.Var(&imgs, "img", "image file to upload (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("create: -f is required")
	}

	var in models.PropertyInput
	if err := readInput(*file, &in); err != nil {
		return err
	}

	gallery := services.NewGallery(a.client, 0, a.logger)
	gallery.SetLogFunc(a.logFn)
	if err := addFiles(gallery, imgs); err != nil {
		return err
	}

	sub := services.NewCreateSubmission(a.client, gallery, a.catalog, a.logger)
	sub.SetLogFunc(a.logFn)
	result, err := sub.Submit(ctx, &in)
	if err != nil {
		return err
	}
	fmt.Printf("Created property %d with %d images\n", result.PropertyID, result.Images)
	return nil
}

func (a *app) update(ctx context.Context, args []string) error {
	id, err := parseID(args, 0, "property id")
	if err != nil {
		return err
	}

	var imgs, removals listFlag
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	file := fs.String("f", "", "YAML file with the fields to change")
	primary := fs.Int64("primary", 0, "image id to make primary")
	fs.Var(&imgs, "img", "image file to upload (repeatable)")
	fs.Var(&removals, "rm", "rendered image index to delete now (repeatable)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	original, err := a.catalog.Property(ctx, id)
	if err != nil {
		return err
	}
	in := models.InputFromProperty(original)
	if *file != "" {
		if err := readInput(*file, &in); err != nil {
			return err
		}
	}

	gallery := services.NewGallery(a.client, id, a.logger)
	gallery.SetLogFunc(a.logFn)
	if err := gallery.Load(ctx); err != nil {
		return err
	}

	targets, err := resolveRemovals(gallery, removals)
	if err != nil {
		return err
	}
	if err := removeEntries(ctx, gallery, targets); err != nil {
		return err
	}

	if *primary != 0 {
		if err := gallery.SetPrimary(*primary); err != nil {
			return err
		}
	}
	if err := addFiles(gallery, imgs); err != nil {
		return err
	}

	sub := services.NewUpdateSubmission(a.client, original, gallery, a.catalog, a.logger)
	sub.SetLogFunc(a.logFn)
	result, err := sub.Submit(ctx, &in)
	if errors.Is(err, services.ErrNothingToSubmit) {
		fmt.Println("Nothing to update")
		return nil
	}
	if err != nil {
		return err
	}

	msg := result.Message
	if msg == "" {
		msg = fmt.Sprintf("Updated property %d", result.PropertyID)
	}
	fmt.Println(msg)
	printGallery(gallery)
	return nil
}

func (a *app) delete(ctx context.Context, args []string) error {
	id, err := parseID(args, 0, "property id")
	if err != nil {
		return err
	}
	if err := a.client.DeleteProperty(ctx, id); err != nil {
		return err
	}
	a.catalog.Invalidate()
	a.catalog.InvalidateProperty(id)
	a.logFn(models.LogInfo, "property", fmt.Sprintf("deleted property %d", id))
	fmt.Printf("Deleted property %d\n", id)
	return nil
}

func (a *app) restore(ctx context.Context, args []string) error {
	id, err := parseID(args, 0, "property id")
	if err != nil {
		return err
	}
	if err := a.client.RestoreProperty(ctx, id); err != nil {
		return err
	}
	a.catalog.Invalidate()
	a.catalog.InvalidateProperty(id)
	a.logFn(models.LogInfo, "property", fmt.Sprintf("restored property %d", id))
	fmt.Printf("Restored property %d\n", id)
	return nil
}

func (a *app) removeImage(ctx context.Context, args []string) error {
	propertyID, err := parseID(args, 0, "property id")
	if err != nil {
		return err
	}
	imageID, err := parseID(args, 1, "image id")
	if err != nil {
		return err
	}

	gallery := services.NewGallery(a.client, propertyID, a.logger)
	gallery.SetLogFunc(a.logFn)
	if err := gallery.Load(ctx); err != nil {
		return err
	}
	if err := gallery.RemoveImage(ctx, imageID); err != nil {
		return err
	}
	a.catalog.InvalidateProperty(propertyID)
	fmt.Printf("Deleted image %d\n", imageID)
	return nil
}

func parseID(args []string, pos int, what string) (int64, error) {
	if len(args) <= pos {
		return 0, fmt.Errorf("missing %s", what)
	}
	id, err := strconv.ParseInt(args[pos], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, args[pos])
	}
	return id, nil
}

// readInput decodes a YAML property file over in. Keys absent from the file
// keep their current value; an explicit null clears an optional field.
func readInput(path string, in *models.PropertyInput) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, in); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func addFiles(g *services.Gallery, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	files := make([]services.LocalFile, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		files = append(files, services.LocalFile{Name: filepath.Base(p), Data: data})
	}
	_, err := g.AddPending(files...)
	return err
}

// resolveRemovals maps rendered indices to the entries they name before any
// deletion shifts the sequence.
func resolveRemovals(g *services.Gallery, raw []string) ([]services.ImageEntry, error) {
	rendered := g.Rendered()
	seen := make(map[int]bool, len(raw))
	targets := make([]services.ImageEntry, 0, len(raw))
	for _, r := range raw {
		i, err := strconv.Atoi(r)
		if err != nil {
			return nil, fmt.Errorf("invalid image index %q", r)
		}
		if i < 0 || i >= len(rendered) {
			return nil, fmt.Errorf("%w: %d of %d", services.ErrIndexOutOfRange, i, len(rendered))
		}
		if seen[i] {
			return nil, fmt.Errorf("image index %d given more than once", i)
		}
		seen[i] = true
		targets = append(targets, rendered[i])
	}
	return targets, nil
}

// removeEntries deletes persisted entries by id and drops pending ones by handle
func removeEntries(ctx context.Context, g *services.Gallery, targets []services.ImageEntry) error {
	for _, e := range targets {
		switch entry := e.(type) {
		case services.PersistedEntry:
			if err := g.RemoveImage(ctx, entry.Image.ID); err != nil {
				return err
			}
			fmt.Printf("Deleted image %d (%s)\n", entry.Image.ID, entry.DisplayName())
		case services.PendingEntry:
			if err := g.RemovePending(entry.Image.Handle); err != nil {
				return err
			}
			fmt.Printf("Dropped pending image %s\n", entry.DisplayName())
		}
	}
	return nil
}
