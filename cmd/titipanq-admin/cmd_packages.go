package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"titipanq-admin/internal/filter"
	"titipanq-admin/internal/models"
	"titipanq-admin/internal/notify"
	"titipanq-admin/internal/photo"
	"titipanq-admin/internal/qrscan"
	"titipanq-admin/internal/registry"
	"titipanq-admin/internal/store"
	"titipanq-admin/internal/validation"
	"titipanq-admin/internal/workflow"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const listTimeLayout = "2006-01-02 15:04"

// loadPackages admin 走缓存；user 只看自己的包裹，不缓存
func (a *app) loadPackages(ctx context.Context) ([]models.Package, error) {
	if a.client.Role() == registry.RoleUser {
		return a.client.ListAllMyPackages(ctx)
	}
	return store.LoadPackages(ctx, a.packageCache(ctx), "all", a.client.ListAllPackages)
}

func (c *cli) packagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "packages",
		Aliases: []string{"pkg"},
		Short:   "List, inspect, create and delete packages",
	}
	cmd.AddCommand(c.packagesListCmd(), c.packagesShowCmd(), c.packagesCreateCmd(), c.packagesDeleteCmd())
	return cmd
}

func (c *cli) packagesListCmd() *cobra.Command {
	var (
		q       filter.PackageQuery
		sort    string
		page    int
		perPage int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List packages with search, status, date and company filters",
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs, err := c.app.loadPackages(cmd.Context())
			if err != nil {
				return err
			}
			q.Sort = filter.SortOrder(sort)
			matched := q.Apply(pkgs)
			items, meta := filter.Paginate(matched, page, perPage)
			renderPackages(c.out, items)
			fmt.Fprintf(c.out, "page %d/%d, %d package(s)\n", meta.Page, meta.MaxPage, meta.Count)

			idx := filter.NewIndex()
			idx.Rebuild(pkgs)
			fmt.Fprintf(c.out, "received %d, completed %d, expired %d, occupied lockers %d\n",
				idx.StatusCount(models.StatusReceived),
				idx.StatusCount(models.StatusCompleted),
				idx.StatusCount(models.StatusExpired),
				idx.OccupiedLockers(),
			)
			if q.CompanyID != "" {
				fmt.Fprintf(c.out, "unclaimed for %s: %d\n", q.CompanyID, idx.Unclaimed(q.CompanyID))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&q.Text, "search", "", "case-insensitive search on description, tracking code and user name")
	f.StringVar(&q.Status, "status", filter.StatusAll, "received | delivered | completed | expired | all")
	f.StringVar(&q.Date, "date", "", "created date prefix, e.g. 2025-06-01")
	f.StringVar(&q.CompanyID, "company", "", "company id")
	f.StringVar(&sort, "sort", string(filter.SortNewest), "newest | oldest | description")
	f.IntVar(&page, "page", 1, "page number")
	f.IntVar(&perPage, "per-page", 10, "page size")
	return cmd
}

func renderPackages(w io.Writer, pkgs []models.Package) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Tracking Code", "Description", "Status", "User", "Company", "Locker", "Created"})
	table.SetAutoWrapText(false)
	for i := range pkgs {
		p := &pkgs[i]
		locker := ""
		if p.Locker != nil {
			locker = p.Locker.Code
		}
		table.Append([]string{
			p.ID, p.TrackingCode, p.Description, string(p.Status),
			p.User.Name, p.User.Company.Name, locker, p.CreatedAt.Local().Format(listTimeLayout),
		})
	}
	table.Render()
}

func (c *cli) packagesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <package-id>",
		Short: "Show one package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.app.client.GetPackage(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			image := photo.NewPicker(c.app.previews, c.app.cfg.API.ImageBaseURL, c.app.logger)
			defer image.Close()
			image.SetStoredReference(p.Image)

			rows := [][]string{
				{"ID", p.ID},
				{"Tracking Code", p.TrackingCode},
				{"Description", p.Description},
				{"Type", string(p.Type)},
				{"Quantity", strconv.Itoa(p.Quantity)},
				{"Status", string(p.Status)},
				{"User", p.User.Name + " <" + p.User.Email + ">"},
				{"Company", p.User.Company.Name},
				{"Created", p.CreatedAt.Local().Format(listTimeLayout)},
			}
			if p.Locker != nil {
				rows = append(rows, []string{"Locker", p.Locker.Code + " (" + p.Locker.Location + ")"})
			}
			if p.Sender != nil {
				rows = append(rows, []string{"Sender", p.Sender.Name})
			}
			if p.Recipient != nil {
				rows = append(rows, []string{"Recipient", p.Recipient.Name})
			}
			if p.Image != "" {
				rows = append(rows, []string{"Image", image.PreviewURL()})
			}
			if p.ProofImage != "" {
				proof := photo.NewPicker(c.app.previews, c.app.cfg.API.ImageBaseURL, c.app.logger)
				defer proof.Close()
				proof.SetStoredReference(p.ProofImage)
				rows = append(rows, []string{"Proof", proof.PreviewURL()})
			}
			if p.CompletedAt != nil {
				rows = append(rows, []string{"Completed", p.CompletedAt.Local().Format(listTimeLayout)})
			}
			if p.ExpiredAt != nil {
				rows = append(rows, []string{"Expires", p.ExpiredAt.Local().Format(listTimeLayout)})
			}

			table := tablewriter.NewWriter(c.out)
			table.SetAutoWrapText(false)
			table.AppendBulk(rows)
			table.Render()
			return nil
		},
	}
}

func (c *cli) packagesCreateCmd() *cobra.Command {
	var (
		form      validation.PackageForm
		imagePath string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a received package",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var image *photo.Payload
			if imagePath != "" {
				p, err := photo.ReadFile(imagePath)
				if err != nil {
					return err
				}
				image = p
				if form.TrackingCode == "" && qrscan.AutofillTrackingCode(&form, image) {
					fmt.Fprintf(c.out, "tracking code from QR: %s\n", form.TrackingCode)
				}
			}
			pkg, err := c.app.client.CreatePackage(ctx, form, image)
			if err != nil {
				return err
			}
			if err := c.app.packageCache(ctx).Invalidate(ctx); err != nil {
				c.app.logger.Warn("Failed to invalidate package cache", zap.Error(err))
			}
			_ = c.app.eventNotifier().Publish(notify.Received(&pkg))
			fmt.Fprintf(c.out, "created %s (%s)\n", pkg.ID, pkg.TrackingCode)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&form.Description, "description", "", "package description")
	f.StringVar(&form.TrackingCode, "tracking-code", "", "tracking code (read from the image QR code or generated when empty)")
	f.StringVar(&form.Type, "type", string(models.PackageTypeItem), "document | item | other")
	f.IntVar(&form.Quantity, "quantity", 1, "quantity")
	f.StringVar(&form.UserID, "user", "", "owner user id")
	f.StringVar(&form.LockerID, "locker", "", "locker id")
	f.StringVar(&form.SenderID, "sender", "", "sender id")
	f.StringVar(&imagePath, "image", "", "package photo")
	return cmd
}

func (c *cli) packagesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <package-id>",
		Short: "Delete a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := c.app.client.DeletePackage(ctx, args[0]); err != nil {
				return err
			}
			_ = c.app.packageCache(ctx).Invalidate(ctx)
			fmt.Fprintf(c.out, "deleted %s\n", args[0])
			return nil
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <package-id>",
		Short: "Show the status history of a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := c.app.packageHistory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(c.out)
			table.SetHeader([]string{"Status", "Changed By", "Email", "At"})
			for _, h := range history {
				table.Append([]string{string(h.Status), h.ChangedBy.Name, h.ChangedBy.Email, h.CreatedAt.Local().Format(listTimeLayout)})
			}
			table.Render()
			return nil
		},
	}
}

func (a *app) packageHistory(ctx context.Context, id string) ([]models.PackageHistory, error) {
	if a.client.Role() == registry.RoleUser {
		return a.client.ListMyPackageHistory(ctx, id)
	}
	return a.client.ListPackageHistory(ctx, id)
}

// resolveRecipient 先按 id 精确匹配，再按姓名搜索；姓名必须唯一
func (a *app) resolveRecipient(ctx context.Context, query string) (models.Recipient, error) {
	recipients, err := a.client.ListAllRecipients(ctx)
	if err != nil {
		return models.Recipient{}, err
	}
	for _, r := range recipients {
		if r.ID == query {
			return r, nil
		}
	}
	matches := filter.Recipients(recipients, query)
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return models.Recipient{}, fmt.Errorf("no recipient matches %q", query)
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m.Name+" ("+m.ID+")")
	}
	return models.Recipient{}, fmt.Errorf("recipient %q is ambiguous: %s", query, strings.Join(names, ", "))
}

func (c *cli) pickupCmd() *cobra.Command {
	var (
		ids       []string
		recipient string
		proofPath string
	)
	cmd := &cobra.Command{
		Use:   "pickup",
		Short: "Mark a batch of packages as picked up by one recipient (single request)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a := c.app

			wf := workflow.New(workflow.Deps{
				Registry: a.client,
				Cache:    a.packageCache(ctx),
				Journal:  a.recorder(ctx),
				Events:   a.eventNotifier(),
				Logger:   a.logger,
			})
			wf.OnReload(func() {
				// 成功后重新拉取，打印最新计数
				fresh, err := a.client.ListAllPackages(ctx)
				if err != nil {
					a.logger.Warn("Reload after pickup failed", zap.Error(err))
					return
				}
				counts := filter.CountByStatus(fresh)
				fmt.Fprintf(c.out, "received %d, completed %d\n", counts[models.StatusReceived], counts[models.StatusCompleted])
			})

			snapshot, err := a.client.ListAllPackages(ctx)
			if err != nil {
				return err
			}
			wf.Refresh(snapshot)

			wf.Select(ids...)
			if err := wf.OpenSelected(); err != nil {
				return err
			}
			defer wf.Close()

			if recipient != "" {
				r, err := a.resolveRecipient(ctx, recipient)
				if err != nil {
					return err
				}
				if err := wf.SetRecipient(r.ID); err != nil {
					return err
				}
			}
			if proofPath != "" {
				picker := photo.NewPicker(a.previews, a.cfg.API.ImageBaseURL, a.logger)
				defer picker.Close()
				payload, err := photo.ReadFile(proofPath)
				if err != nil {
					return err
				}
				picker.Process(payload)
				if err := wf.SetProof(picker.Payload()); err != nil {
					return err
				}
			}

			start := time.Now()
			batch := wf.Batch()
			if err := wf.Submit(ctx); err != nil {
				return err
			}
			a.logger.Info("Pickup submitted", append(logFields(cmd),
				zap.Strings("package_ids", batch),
				zap.Duration("elapsed", time.Since(start)),
			)...)
			fmt.Fprintf(c.out, "%d package(s) marked completed\n", len(batch))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&ids, "package", nil, "package id (repeat or comma separated)")
	f.StringVar(&recipient, "recipient", "", "recipient id or unique name")
	f.StringVar(&proofPath, "proof", "", "proof-of-pickup photo")
	return cmd
}
