// Command authctl provisions login users and signing secrets.
//
//	authctl gensecret
//	authctl useradd -username alice -password s3cret -roles ROLE_USER,ROLE_ADMIN
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/sirupsen/logrus"
	"github.com/tourspot/authcore/internal/models"
	"github.com/tourspot/authcore/internal/repository"
	"github.com/tourspot/authcore/internal/service"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "gensecret":
		err = genSecret()
	case "useradd":
		err = userAdd(os.Args[2:], logger)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		logger.WithError(err).Fatal(os.Args[1] + " failed")
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: authctl <gensecret|useradd> [flags]")
}

func genSecret() error {
	secret, err := service.GenerateSecretKey()
	if err != nil {
		return err
	}
	fmt.Println(secret)
	return nil
}

func userAdd(args []string, logger *logrus.Logger) error {
	fs := flag.NewFlagSet("useradd", flag.ExitOnError)
	username := fs.String("username", "", "login name, used as the token subject")
	password := fs.String("password", "", "plain text password")
	roles := fs.String("roles", "ROLE_USER", "comma separated authority list")
	region := fs.String("region", envOr("DYNAMODB_REGION", "ap-northeast-2"), "DynamoDB region")
	endpoint := fs.String("endpoint", os.Getenv("DYNAMODB_ENDPOINT"), "DynamoDB endpoint override")
	table := fs.String("table", envOr("DYNAMODB_TABLE_NAME", "AuthTable"), "DynamoDB table")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *username == "" || *password == "" {
		return errors.New("-username and -password are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(*region)}
	if *endpoint != "" {
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(_, _ string, _ ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: *endpoint, SigningRegion: *region}, nil
			})))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	repo := repository.NewUserRepository(dynamodb.NewFromConfig(awsCfg), *table, logger)
	user := &models.User{
		Username: *username,
		Roles:    splitRoles(*roles),
	}
	if err := repo.Create(ctx, user, *password); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"username": user.Username,
		"roles":    user.Roles,
	}).Info("User created")
	return nil
}

func splitRoles(s string) []string {
	var roles []string
	for _, role := range strings.Split(s, ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}

func envOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
